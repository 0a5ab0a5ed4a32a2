package models

import (
	"errors"
	"testing"
	"time"
)

func TestParseKinds(t *testing.T) {
	kinds, err := ParseKinds("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kinds) != len(AllKinds) {
		t.Errorf("Expected all %d kinds, got %d", len(AllKinds), len(kinds))
	}

	kinds, err = ParseKinds("patterns, Methods,patterns")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != KindPatterns || kinds[1] != KindMethods {
		t.Errorf("Expected [patterns methods], got %v", kinds)
	}

	_, err = ParseKinds("patterns,observations")
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "kinds" {
		t.Errorf("Expected ValidationError on kinds, got %v", err)
	}
}

func TestLearningPattern_Validate(t *testing.T) {
	p := &LearningPattern{Description: "meeting分析経験", Context: "meeting", SuccessCount: 1}
	if err := p.Validate(); err != nil {
		t.Errorf("Expected valid pattern, got %v", err)
	}

	p.Description = "  "
	if err := p.Validate(); !IsValidation(err) {
		t.Errorf("Expected ValidationError for blank description, got %v", err)
	}

	p.Description = "x"
	p.SuccessCount = -1
	if err := p.Validate(); !IsValidation(err) {
		t.Errorf("Expected ValidationError for negative success count, got %v", err)
	}
}

func TestJSONStringArray_ScanValue(t *testing.T) {
	arr := JSONStringArray{"meeting", "proposal"}
	v, err := arr.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != `["meeting","proposal"]` {
		t.Errorf("Unexpected encoded value %v", v)
	}

	var scanned JSONStringArray
	if err := scanned.Scan([]byte(`["meeting"]`)); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !scanned.Contains("meeting") || scanned.Contains("personal") {
		t.Errorf("Contains mismatch for %v", scanned)
	}

	if err := scanned.Scan(nil); err != nil || scanned != nil {
		t.Errorf("Expected nil after scanning NULL, got %v (%v)", scanned, err)
	}

	if err := scanned.Scan(42); err == nil {
		t.Error("Expected error scanning an int")
	}

	var empty JSONStringArray
	v, _ = empty.Value()
	if v != "[]" {
		t.Errorf("Expected nil array to encode as [], got %v", v)
	}
}

func TestParseFileType(t *testing.T) {
	ft, err := ParseFileType("judgment", " Meeting ")
	if err != nil || ft != FileTypeMeeting {
		t.Errorf("Expected meeting, got %q (%v)", ft, err)
	}

	_, err = ParseFileType("correct_type", "diary")
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "correct_type" {
		t.Errorf("Expected ValidationError naming correct_type, got %v", err)
	}
}

func TestFileTypeJudgment_Validate(t *testing.T) {
	j := &FileTypeJudgment{Judgment: FileTypeProposal}
	if err := j.Validate(); err != nil {
		t.Errorf("Expected valid judgment, got %v", err)
	}
	j.CorrectType = "memo"
	if err := j.Validate(); !IsValidation(err) {
		t.Errorf("Expected ValidationError for bad correct type, got %v", err)
	}
}

func TestTruncateSample(t *testing.T) {
	long := make([]rune, MaxContentSampleLength+20)
	for i := range long {
		long[i] = 'あ'
	}
	got := []rune(TruncateSample(string(long)))
	if len(got) != MaxContentSampleLength {
		t.Errorf("Expected %d runes, got %d", MaxContentSampleLength, len(got))
	}
	if TruncateSample("short") != "short" {
		t.Error("Short content should be unchanged")
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("date_from", "2024-03-01", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if FormatTimestamp(ts) != "2024-03-01 00:00:00" {
		t.Errorf("Unexpected start of day %s", FormatTimestamp(ts))
	}

	end, err := ParseTimestamp("date_to", "2024-03-01", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if end.Sub(ts) != 24*time.Hour-time.Millisecond {
		t.Errorf("Expected inclusive end of day, got %v", end.Sub(ts))
	}

	wall, err := ParseTimestamp("date_from", "2024-03-01 12:30:00", false)
	if err != nil || wall.UTC().Hour() != 3 {
		t.Errorf("Expected JST wall clock to map to 03:30 UTC, got %v (%v)", wall.UTC(), err)
	}

	wallEnd, err := ParseTimestamp("date_to", "2024-03-01 12:30:00", true)
	if err != nil || wallEnd.Sub(wall) != time.Second-time.Millisecond {
		t.Errorf("Expected inclusive end of second, got %v (%v)", wallEnd.Sub(wall), err)
	}
	if FormatTimestamp(wallEnd) != "2024-03-01 12:30:00" {
		t.Errorf("End of second must display as the same second, got %s", FormatTimestamp(wallEnd))
	}

	exact, err := ParseTimestamp("date_to", "2024-03-01T03:30:00.250Z", true)
	if err != nil || exact.Sub(wall) != 250*time.Millisecond {
		t.Errorf("Expected fractional bound kept as is, got %v (%v)", exact.Sub(wall), err)
	}

	if _, err := ParseTimestamp("date_to", "yesterday", true); !IsValidation(err) {
		t.Errorf("Expected ValidationError for malformed date, got %v", err)
	}
}

func TestMethodValidation(t *testing.T) {
	m := &MethodEffectiveness{MethodName: "summary-v2", EffectivenessScore: 101, UsageCount: 1}
	if err := m.Validate(); !IsValidation(err) {
		t.Errorf("Expected ValidationError for score 101, got %v", err)
	}
	m.EffectivenessScore = 100
	m.UsageCount = 0
	if err := m.Validate(); !IsValidation(err) {
		t.Errorf("Expected ValidationError for usage 0, got %v", err)
	}

	f := &MethodFeedback{AnalysisMethod: "summary-v2", UserSatisfactionScore: 0.5}
	if err := f.Validate(); !IsValidation(err) {
		t.Errorf("Expected ValidationError for satisfaction 0.5, got %v", err)
	}
	f.UserSatisfactionScore = 4.5
	if err := f.Validate(); err != nil {
		t.Errorf("Expected valid feedback, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	su := &StorageUnavailableError{Op: "insert", Err: errors.New("connection refused")}
	if !IsRetryable(su) {
		t.Error("StorageUnavailableError must be retryable")
	}
	if IsRetryable(NewValidationError("x", "bad")) {
		t.Error("ValidationError must not be retryable")
	}
	nf := &NotFoundError{Kind: KindJudgments, ID: 7}
	if !IsNotFound(nf) || nf.Error() != "judgments 7 not found" {
		t.Errorf("Unexpected NotFoundError behaviour: %v", nf)
	}
}
