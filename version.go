package svctl

// Version is the current version of the svctl library
const Version = "1.0.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// Protocol is the supervisord control protocol spoken
	Protocol string
	// QueueLayout is the job queue key layout the suspension coordinator uses
	QueueLayout string
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:     Version,
		Protocol:    "supervisord XML-RPC 3.0",
		QueueLayout: "rq",
	}
}
