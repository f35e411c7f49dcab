package cases

import "errors"

var (
	ErrCaseNotFound   = errors.New("moderation case not found")
	ErrAppealNotFound = errors.New("appeal not found")

	// the same reporter already has a report on file for this subject
	ErrDuplicateReport = errors.New("duplicate report for subject")

	// reporter exceeded their daily report budget
	ErrReportLimitExceeded = errors.New("report limit exceeded")

	// a case can carry at most one open appeal at a time
	ErrAppealAlreadyOpen = errors.New("an appeal is already open for this case")

	// only the owner of an actioned or escalated subject may appeal
	ErrAppealNotAllowed = errors.New("appeal not allowed")

	// the case (or appeal) is not in a status that permits the requested
	// transition; on concurrent staff actions the first committer wins
	ErrWorkflowConflict = errors.New("workflow state conflict")
)
