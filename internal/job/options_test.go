package job

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestOptionsInput_Resolve_Defaults(t *testing.T) {
	opts, err := OptionsInput{}.Resolve()
	require.NoError(t, err)

	assert.Equal(t, 1.0, opts.Interval)
	assert.Equal(t, FormatPNG, opts.Format)
	assert.Equal(t, 90, opts.Quality)
	assert.Zero(t, opts.MaxWidth)
	assert.Zero(t, opts.MaxHeight)
}

func TestOptionsInput_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		in      OptionsInput
		wantErr bool
	}{
		{"interval at upper bound", OptionsInput{Interval: ptr(60.0)}, false},
		{"interval above upper bound", OptionsInput{Interval: ptr(60.5)}, true},
		{"interval at exclusive lower bound", OptionsInput{Interval: ptr(0.1)}, true},
		{"interval just above lower bound", OptionsInput{Interval: ptr(0.11)}, false},
		{"negative interval", OptionsInput{Interval: ptr(-1.0)}, true},
		{"quality lower bound", OptionsInput{Quality: ptr(1)}, false},
		{"quality upper bound", OptionsInput{Quality: ptr(100)}, false},
		{"quality zero", OptionsInput{Quality: ptr(0)}, true},
		{"quality too high", OptionsInput{Quality: ptr(101)}, true},
		{"jpeg", OptionsInput{Format: ptr("jpeg")}, false},
		{"webp upper case", OptionsInput{Format: ptr("WEBP")}, false},
		{"gif rejected", OptionsInput{Format: ptr("gif")}, true},
		{"max width in range", OptionsInput{MaxWidth: ptr(4096)}, false},
		{"max width too large", OptionsInput{MaxWidth: ptr(4097)}, true},
		{"explicit zero max width", OptionsInput{MaxWidth: ptr(0)}, true},
		{"negative max height", OptionsInput{MaxHeight: ptr(-3)}, true},
		{"explicit zero max height", OptionsInput{MaxHeight: ptr(0)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.in.Resolve()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation), "expected ErrValidation, got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOptions_ValidateMessageUsesJSONNames(t *testing.T) {
	err := Options{Interval: 1, Format: "bmp", Quality: 90}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format must be one of [png jpeg webp]")
}

func TestFormat_ExtensionAndContentType(t *testing.T) {
	assert.Equal(t, "png", FormatPNG.Extension())
	assert.Equal(t, "jpg", FormatJPEG.Extension())
	assert.Equal(t, "webp", FormatWebP.Extension())

	assert.Equal(t, "image/png", FormatPNG.ContentType())
	assert.Equal(t, "image/jpeg", FormatJPEG.ContentType())
	assert.Equal(t, "image/webp", FormatWebP.ContentType())
}
