package hiccup

import (
	goflag "flag"

	"k8s.io/klog/v2"
)

// InitLogging configures klog for a CLI tool: everything to stderr, and
// verbosity 2 when the -v flag is set. klog's own flags are not surfaced
// because this tool's -v is a boolean on the historical surface.
func InitLogging(verbose bool) {
	fs := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(fs)
	fs.Set("logtostderr", "true")
	if verbose {
		fs.Set("v", "2")
	}
}
