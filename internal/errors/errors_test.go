package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsCode(t *testing.T) {
	base := DataLoadError("data.csv", stderrors.New("eof"))
	err := Wrap(base, "load input")
	assert.Equal(t, CodeDataLoad, GetCode(err))
	assert.Equal(t, "load input: failed to load data.csv: eof", err.Error())
	assert.True(t, stderrors.Is(err, base))

	plain := Wrapf(stderrors.New("boom"), "step %d", 3)
	assert.Equal(t, CodeInternalError, GetCode(plain))
	assert.Equal(t, "step 3: boom", plain.Error())

	assert.Nil(t, Wrap(nil, "nothing"))
	assert.Nil(t, WithCode(CodeNotFound, nil))
}

func TestWithCode(t *testing.T) {
	cause := stderrors.New("bad yaml")
	err := WithCode(CodeInvalidInput, cause)
	assert.True(t, IsAppError(err))
	assert.Equal(t, CodeInvalidInput, GetCode(err))
	assert.True(t, stderrors.Is(err, cause))

	recoded := WithCode(CodeValidationError, ModelFitError("binomial", cause))
	assert.Equal(t, CodeValidationError, GetCode(recoded))
	assert.Equal(t, "binomial model fit failed: bad yaml", recoded.Error())
}

func TestGetCodeOfForeignError(t *testing.T) {
	assert.Equal(t, "UNKNOWN", GetCode(stderrors.New("x")))
	assert.False(t, IsAppError(stderrors.New("x")))
	assert.Equal(t, "thing not found", NotFound("thing").Error())
}
