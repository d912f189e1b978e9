package enrollment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enroll-cli/internal/model"
)

func TestParseErrorCodes(t *testing.T) {
	t.Parallel()

	codes, err := ParseErrorCodes(map[string]string{
		"duplicate_lead": "Resumable",
		"INELIGIBLE_PET": "rejection",
	})
	require.NoError(t, err)
	assert.Equal(t, ClassResumable, codes.Classify("DUPLICATE_LEAD"))
	assert.Equal(t, ClassRejection, codes.Classify("ineligible_pet"))
	assert.Equal(t, ClassRejection, codes.Classify("SOMETHING_ELSE"))

	_, err = ParseErrorCodes(map[string]string{"X": "retry"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown class")
}

func TestErrorCodes_Rejected(t *testing.T) {
	t.Parallel()

	codes := DefaultErrorCodes()

	res := codes.rejected(model.StepQuote, "DUPLICATE_LEAD", "already quoted", "prev-1")
	assert.Equal(t, "prev-1", res.ResumeRef)
	assert.True(t, res.Rejected())
	assert.NoError(t, res.Validate())

	res = codes.rejected(model.StepQuote, "INELIGIBLE_PET", "too old", "prev-1")
	assert.Empty(t, res.ResumeRef)

	res = codes.rejected(model.StepDetails, "", "", "")
	assert.Equal(t, "provider rejected the request", res.Error)
}
