// Package models contains domain models for learnlog.
package models

import (
	"fmt"
	"strings"
)

// FileType is the classification label assigned to an ingested transcript.
type FileType string

const (
	// FileTypeMeeting is a meeting transcript.
	FileTypeMeeting FileType = "meeting"
	// FileTypePersonal is a personal memo.
	FileTypePersonal FileType = "personal"
	// FileTypeProposal is a proposal document.
	FileTypeProposal FileType = "proposal"
	// FileTypeUnknown is used when the classifier could not decide.
	FileTypeUnknown FileType = "unknown"
)

// AllFileTypes lists the closed set of file types in a stable order.
var AllFileTypes = []FileType{FileTypeMeeting, FileTypePersonal, FileTypeProposal, FileTypeUnknown}

// Valid reports whether t is a member of the fixed enumeration.
func (t FileType) Valid() bool {
	switch t {
	case FileTypeMeeting, FileTypePersonal, FileTypeProposal, FileTypeUnknown:
		return true
	}
	return false
}

// ParseFileType normalizes s and validates it against the enumeration.
func ParseFileType(field, s string) (FileType, error) {
	t := FileType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: field, Message: fmt.Sprintf("must be one of meeting, personal, proposal, unknown (got %q)", s)}
	}
	return t, nil
}

// MaxContentSampleLength caps the stored transcript sample, in characters.
const MaxContentSampleLength = 500

// FileTypeJudgment is one classification made by the external judge,
// optionally confirmed later with the ground truth.
type FileTypeJudgment struct {
	ID             int64    `json:"id"`
	ContentSample  string   `json:"content_sample"`
	Judgment       FileType `json:"judgment"`
	Reasoning      string   `json:"reasoning"`
	UserFeedback   string   `json:"user_feedback,omitempty"`
	CorrectType    FileType `json:"correct_type,omitempty"`
	IsCorrect      *bool    `json:"is_correct,omitempty"`
	CreatedAt      string   `json:"created_at"`
	CreatedAtEpoch int64    `json:"created_at_epoch"`
}

// Confirmed reports whether ground truth has been recorded.
func (j *FileTypeJudgment) Confirmed() bool {
	return j.IsCorrect != nil
}

// TruncateSample shortens content to MaxContentSampleLength runes.
func TruncateSample(content string) string {
	r := []rune(content)
	if len(r) <= MaxContentSampleLength {
		return content
	}
	return string(r[:MaxContentSampleLength])
}

// Validate checks the enumeration invariants of a judgment.
func (j *FileTypeJudgment) Validate() error {
	if !j.Judgment.Valid() {
		return &ValidationError{Field: "judgment", Message: fmt.Sprintf("invalid file type %q", j.Judgment)}
	}
	if j.CorrectType != "" && !j.CorrectType.Valid() {
		return &ValidationError{Field: "correct_type", Message: fmt.Sprintf("invalid file type %q", j.CorrectType)}
	}
	return nil
}
