// Package config loads service configuration into tagged structs.
//
// Values are resolved in layers, later layers winning:
//
//	envDefault struct tags
//	YAML or JSON file            (Loader.WithFile)
//	.env file                    (Loader.WithDotEnv)
//	process environment
//
// Supported tags are `env:"NAME"`, `envDefault:"value"` and
// `required:"true"`. Nested structs extend the variable prefix with their
// own env tag, so with prefix "ANALYTICS" the field Metrics.Retention
// tagged `env:"METRICS"` / `env:"RETENTION"` reads ANALYTICS_METRICS_RETENTION.
//
//	cfg := config.MustLoad[AppConfig](
//	    config.New().WithEnvPrefix("ANALYTICS").WithFile("analytics.yaml").WithDotEnv(".env"),
//	)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Loader resolves configuration for one Load call. It is not safe for
// concurrent use.
type Loader struct {
	envPrefix  string
	filePath   string
	dotEnvPath string
	lookup     func(string) (string, bool)
}

// New returns a Loader reading only the process environment.
func New() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// WithEnvPrefix prepends prefix and an underscore to every variable name.
// The prefix is uppercased.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets a .yaml, .yml or .json file to read. A missing file is not
// an error.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithDotEnv sets a dotenv file whose variables fill in names absent from
// the process environment. The process environment is never modified and a
// missing file is not an error.
func (l *Loader) WithDotEnv(path string) *Loader {
	l.dotEnvPath = path
	return l
}

// Load fills cfg, which must be a non-nil pointer to a struct, and then
// validates required fields and the optional [Validator] implementation.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	lookup, err := l.envLookup()
	if err != nil {
		return err
	}
	if err := applyEnv(rv, l.envPrefix, lookup); err != nil {
		return err
	}
	return validate(cfg, rv)
}

// MustLoad loads a T or panics. Intended for process start-up.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) envLookup() (func(string) (string, bool), error) {
	base := l.lookup
	if base == nil {
		base = os.LookupEnv
	}
	if l.dotEnvPath == "" {
		return base, nil
	}
	if strings.Contains(l.dotEnvPath, "..") {
		return nil, sserr.New(sserr.CodeInternalConfiguration,
			"config: dotenv path must not contain '..'")
	}
	values, err := godotenv.Read(l.dotEnvPath)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read dotenv file %q", l.dotEnvPath)
	}
	return func(key string) (string, bool) {
		if v, ok := base(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}, nil
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain '..'")
	}
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q", ext)
	}
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to parse %q", l.filePath)
	}
	return nil
}

func isNested(field reflect.Value) bool {
	return field.Kind() == reflect.Struct && field.Type() != durationType
}

func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		if isNested(field) {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}
		tag := sf.Tag.Get("envDefault")
		if tag == "" || !field.IsZero() {
			continue
		}
		if err := setField(field, tag); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: bad default for field %q", sf.Name)
		}
	}
	return nil
}

func applyEnv(rv reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		name := sf.Tag.Get("env")
		if isNested(field) {
			if err := applyEnv(field, joinEnv(prefix, name), lookup); err != nil {
				return err
			}
			continue
		}
		if name == "" {
			continue
		}
		key := joinEnv(prefix, name)
		val, ok := lookup(key)
		if !ok {
			continue
		}
		if err := setField(field, val); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: cannot set field %q from %s", sf.Name, key)
		}
	}
	return nil
}

func joinEnv(prefix, name string) string {
	switch {
	case name == "":
		return prefix
	case prefix == "":
		return name
	default:
		return prefix + "_" + name
	}
}

// setField parses value into field. Strings (including named string types),
// bools, signed and unsigned integers, floats, durations and comma
// separated string slices are supported.
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse unsigned integer %q: %w", value, err)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse float %q: %w", value, err)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		slice := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p == "" {
				continue
			}
			slice = reflect.Append(slice, reflect.ValueOf(p).Convert(field.Type().Elem()))
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
