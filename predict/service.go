// Package predict turns submitted car features into a price using the model and
// category mapping loaded at startup.
package predict

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"carprice/category"
	"carprice/ml"
)

// State is fixed when the Context is built.
type State string

const (
	StateLoaded      State = "model_loaded"
	StateUnavailable State = "model_unavailable"
)

// Price is a prediction rounded to cents. It is rendered with exactly two decimals.
type Price float64

func (p Price) String() string {
	return strconv.FormatFloat(float64(p), 'f', 2, 64)
}

func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

// Round2 rounds to two decimals, ties to even.
func Round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

type Result struct {
	Prediction Price             `json:"prediction"`
	Mappings   *category.Mapping `json:"mappings"`
	Cached     bool              `json:"cached"`
}

// Recorder receives every successful prediction. Failures are logged and do not
// affect the response.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

type Event struct {
	RequestID  string           `json:"request_id,omitempty"`
	Record     ml.FeatureRecord `json:"record"`
	Prediction Price            `json:"prediction"`
	Cached     bool             `json:"cached"`
	Duration   time.Duration    `json:"duration"`
	At         time.Time        `json:"at"`
}

type Options struct {
	// Mappings may be nil when the mapping file was not found.
	Mappings *category.Mapping
	// Model may be nil when no artifact was found.
	Model     ml.Model
	CacheSize int
	Recorders []Recorder
	Logger    *zap.Logger
	// Reason explains why the service is unavailable, reported to callers.
	Reason error
}

// Context is built once at startup and shared read-only by all requests.
type Context struct {
	mappings  *category.Mapping
	model     ml.Model
	state     State
	reason    error
	cache     *lru.Cache[string, float64]
	recorders []Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a Context. The state is model_loaded only when both a model and a
// mapping are present.
func New(opts Options) (*Context, error) {
	c := &Context{
		mappings:  opts.Mappings,
		model:     opts.Model,
		state:     StateLoaded,
		reason:    opts.Reason,
		recorders: opts.Recorders,
		logger:    opts.Logger,
		now:       time.Now,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.mappings == nil {
		c.mappings = category.Empty()
		c.state = StateUnavailable
		if c.reason == nil {
			c.reason = errors.New("category mapping not loaded")
		}
	}
	if c.model == nil {
		c.state = StateUnavailable
		if c.reason == nil {
			c.reason = errors.New("model artifact not loaded")
		}
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, float64](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("prediction cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

type Artifacts struct {
	MappingsPath string
	BundlePath   string
	BoosterPath  string
}

// Open loads the mapping and the model artifact. Missing or unreadable artifacts
// are logged and leave the Context in the unavailable state; Open only fails on
// invalid options.
func Open(paths Artifacts, opts Options) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var reasons []error

	mappings, err := category.LoadFile(paths.MappingsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("category mapping not found, serving empty mapping", zap.String("path", paths.MappingsPath))
		} else {
			logger.Error("category mapping unreadable", zap.String("path", paths.MappingsPath), zap.Error(err))
		}
		reasons = append(reasons, fmt.Errorf("category mapping: %w", err))
	} else {
		opts.Mappings = mappings
		fields := make([]zap.Field, 0, len(category.Columns)+1)
		fields = append(fields, zap.String("path", paths.MappingsPath))
		for _, name := range category.Columns {
			fields = append(fields, zap.Int(name, mappings.Len(name)))
		}
		logger.Info("category mapping loaded", fields...)
	}

	model, err := ml.LoadArtifact(paths.BundlePath, paths.BoosterPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("model artifact not found", zap.String("bundle", paths.BundlePath), zap.String("booster", paths.BoosterPath))
		} else {
			logger.Error("model artifact unreadable", zap.Error(err))
		}
		reasons = append(reasons, fmt.Errorf("model artifact: %w", err))
	} else {
		opts.Model = model
		info := model.Info()
		logger.Info("model loaded",
			zap.String("path", info.Path),
			zap.String("format", info.Format),
			zap.String("wrapper", info.Wrapper),
			zap.Int("trees", info.Trees),
			zap.Strings("columns", model.Columns()),
			zap.String("variant", fmt.Sprintf("%T", model)),
		)
		switch m := model.(type) {
		case *ml.WithoutSchema:
			logger.Warn("model has no input column metadata, predictions will be refused", zap.String("path", info.Path))
		case *ml.Unsupported:
			logger.Warn("model type not supported, predictions will be refused", zap.Error(m.Reason))
		}
	}

	if len(reasons) > 0 && opts.Reason == nil {
		opts.Reason = fieldErrors(reasons)
	}
	return New(opts)
}

func (c *Context) State() State                { return c.state }
func (c *Context) Mappings() *category.Mapping { return c.mappings }

// Model returns the loaded model, nil when unavailable.
func (c *Context) Model() ml.Model { return c.model }

// Validate checks categorical codes against the mapping. Columns whose mapping is
// empty accept any code.
func (c *Context) Validate(record ml.FeatureRecord) error {
	codes := map[string]int{
		category.Brand:        record.Brand,
		category.Model:        record.Model,
		category.FuelType:     record.FuelType,
		category.Transmission: record.Transmission,
	}
	var errs []error
	first := ""
	for _, name := range category.Columns {
		code := codes[name]
		if c.mappings.Len(name) == 0 || c.mappings.Contains(name, code) {
			continue
		}
		if first == "" {
			first = name
		}
		errs = append(errs, fmt.Errorf("%s: code %d: %w", name, code, category.ErrUnknownCode))
	}
	if len(errs) > 0 {
		return &Error{Kind: KindBadInput, Field: first, Err: fieldErrors(errs)}
	}
	return nil
}

// Predict runs one inference. Every failure is returned as an *Error.
func (c *Context) Predict(ctx context.Context, record ml.FeatureRecord) (Result, error) {
	if c.state != StateLoaded {
		return Result{}, &Error{Kind: KindModelUnavailable, Err: fmt.Errorf("%w: %v", ErrModelUnavailable, c.reason)}
	}
	if err := c.Validate(record); err != nil {
		return Result{}, err
	}

	start := c.now()
	key := record.Key()
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			c.record(ctx, record, v, true, start)
			return Result{Prediction: Price(v), Mappings: c.mappings, Cached: true}, nil
		}
	}

	raw, err := c.model.Predict(record)
	if err != nil {
		if errors.Is(err, ml.ErrUnsupportedModel) || errors.Is(err, ml.ErrMissingSchema) || errors.Is(err, ml.ErrFeatureMismatch) {
			return Result{}, &Error{Kind: KindUnsupportedModel, Err: err}
		}
		c.logger.Error("inference failed", zap.String("request_id", RequestID(ctx)), zap.Error(err))
		return Result{}, &Error{Kind: KindInference, Err: err}
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return Result{}, &Error{Kind: KindInference, Err: fmt.Errorf("model returned non-finite value %v", raw)}
	}

	v := Round2(raw)
	if c.cache != nil {
		c.cache.Add(key, v)
	}
	c.record(ctx, record, v, false, start)
	return Result{Prediction: Price(v), Mappings: c.mappings}, nil
}

func (c *Context) record(ctx context.Context, record ml.FeatureRecord, v float64, cached bool, start time.Time) {
	if len(c.recorders) == 0 {
		return
	}
	now := c.now()
	ev := Event{
		RequestID:  RequestID(ctx),
		Record:     record,
		Prediction: Price(v),
		Cached:     cached,
		Duration:   now.Sub(start),
		At:         now,
	}
	for _, r := range c.recorders {
		if err := r.Record(ctx, ev); err != nil {
			c.logger.Warn("prediction recorder failed", zap.String("request_id", ev.RequestID), zap.Error(err))
		}
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request id that is copied into recorded events.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
