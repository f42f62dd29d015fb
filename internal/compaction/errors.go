package compaction

import "errors"

// errEmptySummary marks a summarizer call that returned no error but no
// content either; treated the same as a failed call.
var errEmptySummary = errors.New("summarizer returned empty summary")
