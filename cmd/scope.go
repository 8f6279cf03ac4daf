package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/scope"
)

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Inspect the region, department and city reference tables",
}

// -- scope list --

var scopeListCmd = &cobra.Command{
	Use:       "list <regions|departments|cities> [department]",
	Short:     "List regions, departments, or the cities of a department",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"regions", "departments", "cities"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := scope.Load(cfg.Scope.CommunesPath)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		defer tw.Flush() //nolint:errcheck

		switch args[0] {
		case "regions":
			fmt.Fprintln(tw, "CODE\tNAME")
			for _, r := range ref.Regions() {
				fmt.Fprintf(tw, "%s\t%s\n", r.Code, r.Name)
			}
		case "departments":
			fmt.Fprintln(tw, "CODE\tNAME\tREGION")
			for _, d := range ref.Departments() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Code, d.Name, d.Region)
			}
		case "cities":
			if len(args) < 2 {
				return eris.New("scope list cities needs a department code")
			}
			fmt.Fprintln(tw, "CODE\tNAME\tPOSTAL\tLAT\tLNG")
			for _, c := range ref.CitiesOf(args[1]) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%.4f\n", c.Code, c.Name, c.PostalCode, c.Lat, c.Lng)
			}
		default:
			return eris.Errorf("unknown table %q (regions, departments, cities)", args[0])
		}
		return nil
	},
}

// -- scope expand --

var scopeExpandMode string

var scopeExpandCmd = &cobra.Command{
	Use:   "expand <scope>",
	Short: "Print the ordered cities a job over scope would visit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := model.ParseScope(args[0])
		if err != nil {
			return err
		}
		mode, ok := model.ParseJobMode(scopeExpandMode)
		if !ok {
			return eris.Errorf("unknown mode %q (full, test)", scopeExpandMode)
		}
		ref, err := scope.Load(cfg.Scope.CommunesPath)
		if err != nil {
			return err
		}
		return expandScope(cmd.OutOrStdout(), scope.NewWalker(ref), sc, mode)
	},
}

func expandScope(w io.Writer, walker *scope.Walker, sc model.Scope, mode model.JobMode) error {
	resolved, err := walker.Resolve(sc)
	if err != nil {
		return err
	}
	subs, err := walker.Expand(resolved)
	if err != nil {
		return err
	}
	subs = scope.PolicyFor(mode, cfg.Engine.TestCities, cfg.Engine.TestQueries).SubScopes(subs)
	for i, s := range subs {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, s.Code(), s.City.Name)
	}
	fmt.Fprintf(w, "%d cities\n", len(subs))
	return nil
}

// -- scope load-communes --

var loadCommunesOut string

var loadCommunesCmd = &cobra.Command{
	Use:   "load-communes <communes.shp>",
	Short: "Convert an ADMIN-EXPRESS commune shapefile into a city table",
	Long: "Writes the full commune list as CSV. Point scope.communes_path at the output " +
		"to replace the built-in prefecture list.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cities, err := scope.LoadCommunes(args[0])
		if err != nil {
			return err
		}
		// Validate before writing so a bad shapefile never replaces a good table.
		if _, err := scope.WithCities(cities); err != nil {
			return err
		}

		f, err := os.Create(loadCommunesOut)
		if err != nil {
			return eris.Wrap(err, "create city table")
		}
		if err := scope.WriteCities(f, cities); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "close city table")
		}
		zap.L().Info("city table written", zap.String("path", loadCommunesOut), zap.Int("cities", len(cities)))
		return nil
	},
}

func init() {
	scopeExpandCmd.Flags().StringVar(&scopeExpandMode, "mode", string(model.ModeFull), "full or test")
	loadCommunesCmd.Flags().StringVar(&loadCommunesOut, "out", "communes.csv", "output CSV path")
	scopeCmd.AddCommand(scopeListCmd, scopeExpandCmd, loadCommunesCmd)
	rootCmd.AddCommand(scopeCmd)
}
