package dto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	last := id.New()

	gotAt, gotID, ok, err := DecodeCursor(EncodeCursor(at, last))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(gotAt))
	assert.Equal(t, last, gotID)

	_, _, ok, err = DecodeCursor("")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, _, err = DecodeCursor("!!")
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidArgument))
}

func TestParseBound(t *testing.T) {
	tests := []struct {
		name  string
		value string
		upper bool
		want  *time.Time
		err   bool
	}{
		{name: "empty", value: ""},
		{name: "rfc3339", value: "2024-03-01T10:00:00+02:00", want: ptr(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))},
		{name: "date lower", value: "2024-03-01", want: ptr(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))},
		{name: "date upper", value: "2024-03-01", upper: true, want: ptr(time.Date(2024, 3, 1, 23, 59, 59, 999999999, time.UTC))},
		{name: "garbage", value: "yesterday", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBound("from", tt.value, tt.upper)
			if tt.err {
				assert.True(t, apperror.HasCode(err, apperror.CodeInvalidArgument))
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %s", got)
		})
	}
}

func TestNewPage(t *testing.T) {
	items := []int{1, 2}
	cursor := func(*int) (time.Time, id.ID) { return time.Unix(0, 0), id.Nil() }

	assert.NotEmpty(t, NewPage(items, 2, cursor).NextCursor)
	assert.Empty(t, NewPage(items, 3, cursor).NextCursor)
	assert.Equal(t, []int{}, NewPage[int](nil, 3, cursor).Items)
}

func ptr[T any](v T) *T { return &v }
