package model

// CoverageReport is one coverage file queued for upload to the reporting
// service, together with the commit metadata the service attributes it to.
type CoverageReport struct {
	Path      string // resolved path of the report file
	CommitSHA string
	Ref       string
	Flags     []string
}
