package cli

import (
	"fmt"
	"io"
)

func (r *Root) configShow(out io.Writer) error {
	c := r.cfg
	fmt.Fprintf(out, "Current configuration:\n")
	fmt.Fprintf(out, "Config file: %s\n", r.cfgPath)

	fmt.Fprintf(out, "\nRegistration:\n")
	fmt.Fprintf(out, "  Align channel: %d\n", c.Registration.AlignChannel)
	fmt.Fprintf(out, "  Max shift: %g µm\n", c.Registration.MaxShift)
	fmt.Fprintf(out, "  Filter sigma: %g\n", c.Registration.FilterSigma)
	fmt.Fprintf(out, "  Whiten: %t\n", c.Registration.Whiten)
	fmt.Fprintf(out, "  Subpixel: %t\n", c.Registration.Subpixel)
	fmt.Fprintf(out, "  Neighborhood: %d\n", c.Registration.Neighborhood)
	fmt.Fprintf(out, "  Workers: %d\n", c.Registration.NumWorkers)

	fmt.Fprintf(out, "\nCycle alignment:\n")
	fmt.Fprintf(out, "  Region: %s", c.Cycle.Region)
	if c.Cycle.Region == "center" || c.Cycle.Region == "centre" {
		fmt.Fprintf(out, " (%g)", c.Cycle.CenterFraction)
	}
	fmt.Fprintf(out, "\n  Shift policy: %s\n", c.Cycle.ShiftPolicy)
	fmt.Fprintf(out, "  Refine tiles: %t\n", c.Cycle.RefineTiles)

	fmt.Fprintf(out, "\nOutputs:\n")
	if c.Mosaic.Enabled {
		fmt.Fprintf(out, "  Mosaics: %s (%s, blend %s)\n", c.Mosaic.OutputDir, c.Mosaic.FilenameTemplate, c.Mosaic.Blend)
	}
	if c.Preview.Enabled {
		fmt.Fprintf(out, "  Previews: %s (scale %g)\n", c.Preview.Dir, c.Preview.Scale)
	}
	if c.Storage.Database != "" {
		fmt.Fprintf(out, "  Database: %s\n", c.Storage.Database)
	}
	fmt.Fprintf(out, "  Log level: %s (%s)\n", c.Logging.Level, c.Logging.Format)
	return c.Validate()
}
