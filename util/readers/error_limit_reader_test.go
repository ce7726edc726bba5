package readers

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/t2bot/image-loader/common"
)

func TestLimitReaderUnderLimit(t *testing.T) {
	r := LimitReaderWithOverrunError(io.NopCloser(bytes.NewReader([]byte("hello"))), 10)
	b, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestLimitReaderExactLimit(t *testing.T) {
	r := LimitReaderWithOverrunError(io.NopCloser(bytes.NewReader([]byte("hello"))), 5)
	b, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestLimitReaderOverrun(t *testing.T) {
	r := LimitReaderWithOverrunError(io.NopCloser(bytes.NewReader([]byte("hello world"))), 5)
	_, err := io.ReadAll(r)
	assert.ErrorIs(t, err, common.ErrImageTooLarge)
}
