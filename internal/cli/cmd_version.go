package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print mdbooks version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			v, goVersion, revision, dirty := buildInfo()
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "mdbooks %s\n", v)
			_, _ = fmt.Fprintf(w, "  Go version: %s\n", goVersion)
			_, _ = fmt.Fprintf(w, "  Revision:   %s\n", revision)
			if dirty {
				_, _ = fmt.Fprintf(w, "  Modified:   true\n")
			}
		},
	}
}

func version() string {
	v, _, _, _ := buildInfo()
	return v
}

func buildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
