package spec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	openapi2 "github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrorCode categorizes loader errors for clearer handling and messaging.
type ErrorCode string

const (
	InputError      ErrorCode = "InputError"
	NetworkError    ErrorCode = "NetworkError"
	SyntaxError     ErrorCode = "SyntaxError"
	SchemaInvalid   ErrorCode = "SchemaInvalid"
	UnresolvableRef ErrorCode = "UnresolvableRef"
	ConversionError ErrorCode = "ConversionError"
)

// LoadError is a structured loader error with optional location and pointer
// context. All load failures are fatal to the run.
type LoadError struct {
	Code        ErrorCode
	Message     string
	Location    string // file path or URL
	JSONPointer string // e.g. "#/paths/~1pets/get"
	Cause       error
}

func (e *LoadError) Error() string { return e.Message }
func (e *LoadError) Unwrap() error { return e.Cause }

// Settings configures loader behavior.
type Settings struct {
	// HTTPTimeout bounds each HTTP request.
	HTTPTimeout time.Duration
	// MaxRetries for transient HTTP failures (>=500, 429, or network errors).
	MaxRetries int
	// BackoffBase is the base delay for exponential backoff.
	BackoffBase time.Duration
	// AllowFileRefs controls whether file-based external references are
	// allowed. Automatically enabled when the root input is a local file so
	// multi-file specs load without extra flags.
	AllowFileRefs bool
	// Logger receives loader diagnostics. Defaults to a no-op logger.
	Logger zerolog.Logger
}

// DefaultSettings returns recommended defaults.
func DefaultSettings() Settings {
	return Settings{
		HTTPTimeout: 10 * time.Second,
		MaxRetries:  3,
		BackoffBase: 200 * time.Millisecond,
		Logger:      zerolog.Nop(),
	}
}

// Option mutates Settings.
type Option func(*Settings)

func WithHTTPTimeout(d time.Duration) Option { return func(s *Settings) { s.HTTPTimeout = d } }
func WithMaxRetries(n int) Option            { return func(s *Settings) { s.MaxRetries = n } }
func WithBackoffBase(d time.Duration) Option { return func(s *Settings) { s.BackoffBase = d } }
func WithAllowFileRefs(allow bool) Option    { return func(s *Settings) { s.AllowFileRefs = allow } }
func WithLogger(l zerolog.Logger) Option     { return func(s *Settings) { s.Logger = l } }

// Load reads, validates, and returns an OpenAPI v3 document. Swagger v2.0
// input is converted to v3 via kin-openapi openapi2conv (after the
// compatibility preprocessing in v2compat.go).
//
// input may be a filesystem path or an http/https URL. file:// URLs are
// rejected; file-based external refs are only followed when the root input is
// itself a local file (or WithAllowFileRefs is set).
func Load(ctx context.Context, input string, opts ...Option) (*openapi3.T, error) {
	if strings.TrimSpace(input) == "" {
		return nil, &LoadError{Code: InputError, Message: "spec: input is empty"}
	}

	settings := DefaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	u, uerr := url.Parse(input)
	isURL := uerr == nil && u.Scheme != "" && u.Host != ""

	if isURL {
		scheme := strings.ToLower(u.Scheme)
		if scheme == "file" {
			return nil, &LoadError{Code: InputError, Message: "spec: file:// URLs are blocked", Location: input}
		}
		if scheme != "http" && scheme != "https" {
			return nil, &LoadError{Code: InputError, Message: fmt.Sprintf("spec: unsupported URL scheme %q (only http/https allowed)", scheme), Location: input}
		}
		raw, fetchErr := fetchWithRetry(ctx, input, settings)
		if fetchErr != nil {
			return nil, &LoadError{Code: NetworkError, Message: fmt.Sprintf("fetch %s: %v", input, fetchErr), Location: input, Cause: fetchErr}
		}
		return loadBytes(ctx, raw, input, u, settings, false)
	}

	abs, err := filepath.Abs(input)
	if err != nil {
		return nil, &LoadError{Code: InputError, Message: fmt.Sprintf("resolve path: %v", err), Location: input, Cause: err}
	}
	raw, rerr := os.ReadFile(abs)
	if rerr != nil {
		return nil, &LoadError{Code: InputError, Message: fmt.Sprintf("read file %s: %v", abs, rerr), Location: abs, Cause: rerr}
	}
	return loadBytes(ctx, raw, abs, nil, settings, true)
}

// LoadBytes validates raw specification bytes supplied directly by a caller
// (the webhook layer hands bytes rather than a path).
func LoadBytes(ctx context.Context, raw []byte, opts ...Option) (*openapi3.T, error) {
	settings := DefaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}
	return loadBytes(ctx, raw, "<bytes>", nil, settings, false)
}

func loadBytes(ctx context.Context, raw []byte, location string, base *url.URL, settings Settings, rootIsFile bool) (*openapi3.T, error) {
	version, derr := detectSpecVersion(raw)
	if derr != nil {
		return nil, &LoadError{Code: SyntaxError, Message: derr.Error(), Location: location, Cause: derr}
	}

	switch version {
	case 3:
		loader := newLoader(settings, rootIsFile)
		var doc *openapi3.T
		var err error
		switch {
		case base != nil:
			doc, err = loader.LoadFromURI(base)
		case rootIsFile:
			doc, err = loader.LoadFromFile(location)
		default:
			doc, err = loader.LoadFromData(raw)
		}
		if err != nil {
			return nil, mapValidateOrParseErr(err, location)
		}
		if err := doc.Validate(ctx); err != nil {
			if !canProceedDespiteValidation(err) {
				return nil, mapValidateOrParseErr(err, location)
			}
			settings.Logger.Warn().Str("location", location).Err(err).Msg("proceeding despite validation issues")
		}
		return doc, nil
	case 2:
		if fixed, changed, _ := repairSwagger2(raw); changed {
			settings.Logger.Debug().Str("location", location).Msg("applied swagger v2 compatibility rewrites")
			raw = fixed
		}
		v3doc, err := convertV2ToV3(raw)
		if err != nil {
			return nil, &LoadError{Code: ConversionError, Message: fmt.Sprintf("convert v2→v3: %v", err), Location: location, Cause: err}
		}
		loader := newLoader(settings, rootIsFile)
		if err := loader.ResolveRefsIn(v3doc, nil); err != nil {
			settings.Logger.Warn().Str("location", location).Err(err).Msg("failed to resolve refs after conversion")
		}
		if err := v3doc.Validate(ctx); err != nil {
			if !canProceedDespiteValidation(err) {
				return nil, mapValidateOrParseErr(err, location)
			}
			settings.Logger.Warn().Str("location", location).Err(err).Msg("proceeding despite validation issues")
		}
		return v3doc, nil
	default:
		return nil, &LoadError{Code: SyntaxError, Message: "spec: unknown or unsupported OpenAPI/Swagger version", Location: location}
	}
}

// newLoader builds a kin-openapi loader with the external-ref policy applied.
// The loader keeps its own cache keyed by resolved location, so repeated
// external references are fetched once and file-level cycles do not loop.
func newLoader(settings Settings, rootIsFile bool) *openapi3.Loader {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	client := &http.Client{Timeout: settings.HTTPTimeout}
	allowFile := settings.AllowFileRefs || rootIsFile
	loader.ReadFromURIFunc = func(l *openapi3.Loader, uri *url.URL) ([]byte, error) {
		switch strings.ToLower(uri.Scheme) {
		case "", "file":
			if !allowFile {
				return nil, fmt.Errorf("blocked file ref: %s", uri.String())
			}
			path := uri.Path
			if path == "" {
				path = uri.Opaque
			}
			return os.ReadFile(path)
		case "http", "https":
			req, err := http.NewRequest(http.MethodGet, uri.String(), nil)
			if err != nil {
				return nil, err
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return nil, fmt.Errorf("http %d: %s", resp.StatusCode, uri.String())
			}
			return io.ReadAll(resp.Body)
		default:
			return nil, fmt.Errorf("unsupported ref scheme: %s", uri.Scheme)
		}
	}
	return loader
}

// detectSpecVersion returns 3 for OpenAPI v3, 2 for Swagger v2, else error.
func detectSpecVersion(data []byte) (int, error) {
	var root map[string]any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return 0, fmt.Errorf("parse spec: %w", err)
	}
	if v, ok := root["openapi"]; ok {
		if s, _ := v.(string); strings.HasPrefix(strings.TrimSpace(s), "3.") {
			return 3, nil
		}
	}
	if v, ok := root["swagger"]; ok {
		if s, _ := v.(string); strings.HasPrefix(strings.TrimSpace(s), "2.") {
			return 2, nil
		}
	}
	return 0, fmt.Errorf("spec: missing or unknown version (expected 'openapi: 3.x' or 'swagger: 2.0')")
}

func convertV2ToV3(data []byte) (*openapi3.T, error) {
	var v2 openapi2.T
	if err := yaml.Unmarshal(data, &v2); err != nil {
		return nil, err
	}
	return openapi2conv.ToV3(&v2)
}

func fetchWithRetry(ctx context.Context, rawURL string, settings Settings) ([]byte, error) {
	client := &http.Client{Timeout: settings.HTTPTimeout}
	var lastErr error
	backoff := settings.BackoffBase
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	attempts := settings.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err == nil && resp != nil && resp.StatusCode < 300 {
			defer resp.Body.Close()
			return io.ReadAll(resp.Body)
		}
		if err != nil {
			lastErr = err
		} else {
			defer resp.Body.Close()
			if resp.StatusCode >= 500 || resp.StatusCode == 429 {
				lastErr = fmt.Errorf("transient http error %d", resp.StatusCode)
			} else {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
				return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if lastErr == nil {
		lastErr = errors.New("fetch failed")
	}
	return nil, lastErr
}

func mapValidateOrParseErr(err error, location string) error {
	pointer := extractJSONPointer(err)
	code := SchemaInvalid
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "unresolved ref") || strings.Contains(lower, "failed to resolve"):
		code = UnresolvableRef
	case strings.Contains(lower, "parse") || strings.Contains(lower, "invalid character"):
		code = SyntaxError
	}
	return &LoadError{Code: code, Message: err.Error(), Location: location, JSONPointer: pointer, Cause: err}
}

var jsonPtrRe = regexp.MustCompile(`#/[^\s'"]+`)

func extractJSONPointer(err error) string {
	if err == nil {
		return ""
	}
	if me, ok := err.(openapi3.MultiError); ok {
		if len(me) > 0 {
			return extractJSONPointer(me[0])
		}
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		if parts := se.JSONPointer(); len(parts) > 0 {
			return "#/" + strings.Join(parts, "/")
		}
		if se.SchemaField != "" {
			return se.SchemaField
		}
	}
	msg := err.Error()
	if m := jsonPtrRe.FindString(msg); m != "" {
		return m
	}
	return ""
}

// canProceedDespiteValidation returns true for validation errors where a
// best-effort build can still proceed (e.g., unresolved $ref entries that the
// normalizer tolerates as absent schemas).
func canProceedDespiteValidation(err error) bool {
	if err == nil {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unresolved ref") || strings.Contains(s, "found unresolved ref")
}
