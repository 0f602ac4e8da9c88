package pipeline

import (
	"errors"
	"fmt"
)

// Flows selects which stages of the pipeline a run executes. Both default to
// off so callers opt in explicitly.
type Flows struct {
	Build   bool `json:"build"`
	Tracker bool `json:"tracker"`
}

// User identifies who ordered the release.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Request describes one release run. Commit, when set, overrides Branch as
// the checkout target.
type Request struct {
	IsBeta    bool   `json:"is_beta"`
	Version   string `json:"version"`
	Candidate string `json:"candidate"`
	Branch    string `json:"branch"`
	Commit    string `json:"commit"`
	Flows     Flows  `json:"flows"`
	User      User   `json:"-"`
}

// ValidationError marks a malformed request, as opposed to a run failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid release request: " + e.Reason
}

// BusyError rejects a run while another one holds the pipeline, carrying a
// snapshot of the running release's log.
type BusyError struct {
	Log string
}

func (e *BusyError) Error() string {
	return "a release is already being built"
}

func (r Request) Validate() error {
	if r.Version == "" {
		return &ValidationError{Reason: "version is required"}
	}
	if r.IsBeta && r.Candidate == "" {
		return &ValidationError{Reason: "candidate is required for a beta release"}
	}
	if r.Branch == "" && r.Commit == "" {
		return &ValidationError{Reason: "branch or commit is required"}
	}
	return nil
}

// ReleaseName is the human-readable run name, e.g. "1.0 Beta 2" or
// "4.7 Release".
func (r Request) ReleaseName() string {
	if r.IsBeta {
		return fmt.Sprintf("%s Beta %s", r.Version, r.Candidate)
	}
	return fmt.Sprintf("%s Release", r.Version)
}

// KeyPrefix groups published objects by release kind.
func (r Request) KeyPrefix() string {
	if r.IsBeta {
		return "beta"
	}
	return "release"
}

// BundleName is the flat object key of the full bundle, e.g. "beta_1.0_2.zip"
// or "release_4.7.zip".
func (r Request) BundleName() string {
	if r.IsBeta {
		return fmt.Sprintf("beta_%s_%s.zip", r.Version, r.Candidate)
	}
	return fmt.Sprintf("release_%s.zip", r.Version)
}

// CheckoutRef is the git ref the run builds from.
func (r Request) CheckoutRef() string {
	if r.Commit != "" {
		return r.Commit
	}
	return r.Branch
}

// IsValidationError reports whether err rejects the request rather than the
// run.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
