package version

import (
	"strings"

	"github.com/olekukonko/tablewriter"
)

// moduleBuildInfo renders the main module and its dependencies as a table.
func moduleBuildInfo() string {
	info, ok := readBuildInfo()
	if !ok {
		return "not built in module mode\n"
	}

	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"", "Path", "Version", "Sum"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.Append([]string{"mod", info.Main.Path, info.Main.Version, info.Main.Sum})
	for _, dep := range info.Deps {
		if r := dep.Replace; r != nil {
			table.Append([]string{"dep", dep.Path + " => " + r.Path, r.Version, r.Sum})
			continue
		}
		table.Append([]string{"dep", dep.Path, dep.Version, dep.Sum})
	}
	table.Render()
	return buf.String()
}
