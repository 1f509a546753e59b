package job

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Format is the output image encoding of extracted frames.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// Option defaults applied by OptionsInput.Resolve.
const (
	DefaultInterval = 1.0
	DefaultFormat   = FormatPNG
	DefaultQuality  = 90
)

// Extension returns the file extension used for stored frames.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatWebP:
		return "webp"
	default:
		return "png"
	}
}

// ContentType returns the MIME type of frames encoded in f.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Options are the fully defaulted extraction options of a job.
// They are resolved once at creation and never mutated afterwards.
type Options struct {
	// Interval is the sampling interval in seconds.
	Interval float64 `json:"interval" validate:"gt=0.1,lte=60"`
	Format   Format  `json:"format" validate:"oneof=png jpeg webp"`
	// Quality is the format-specific encoding quality.
	Quality int `json:"quality" validate:"min=1,max=100"`
	// MaxWidth and MaxHeight bound the output size; zero means unbounded.
	MaxWidth  int `json:"maxWidth,omitempty" validate:"omitempty,min=1,max=4096"`
	MaxHeight int `json:"maxHeight,omitempty" validate:"omitempty,min=1,max=4096"`
}

// OptionsInput carries caller supplied options where nil means "use the default".
type OptionsInput struct {
	Interval  *float64 `json:"interval,omitempty"`
	Format    *string  `json:"format,omitempty"`
	Quality   *int     `json:"quality,omitempty"`
	MaxWidth  *int     `json:"maxWidth,omitempty"`
	MaxHeight *int     `json:"maxHeight,omitempty"`
}

// DefaultOptions returns the options used when the caller specifies none.
func DefaultOptions() Options {
	return Options{
		Interval: DefaultInterval,
		Format:   DefaultFormat,
		Quality:  DefaultQuality,
	}
}

// Resolve applies defaults and validates the result.
// Errors wrap ErrValidation.
func (in OptionsInput) Resolve() (Options, error) {
	opts := DefaultOptions()
	if in.Interval != nil {
		opts.Interval = *in.Interval
	}
	if in.Format != nil {
		opts.Format = Format(strings.ToLower(*in.Format))
	}
	if in.Quality != nil {
		opts.Quality = *in.Quality
	}
	if in.MaxWidth != nil {
		if *in.MaxWidth == 0 {
			return Options{}, fmt.Errorf("%w: maxWidth must be between 1 and 4096", ErrValidation)
		}
		opts.MaxWidth = *in.MaxWidth
	}
	if in.MaxHeight != nil {
		if *in.MaxHeight == 0 {
			return Options{}, fmt.Errorf("%w: maxHeight must be between 1 and 4096", ErrValidation)
		}
		opts.MaxHeight = *in.MaxHeight
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks the option constraints.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, describeValidation(err))
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
		}
	}
	return strings.Join(msgs, "; ")
}
