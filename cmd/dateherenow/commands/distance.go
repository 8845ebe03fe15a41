package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shek-hrd/dateherenow/internal/profile"
)

func distanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "distance <lat1> <lon1> <lat2> <lon2>",
		Short: "Print the great-circle distance between two points in km",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v [4]float64
			for i, a := range args {
				f, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("invalid coordinate %q: %w", a, err)
				}
				v[i] = f
			}
			a := profile.Coordinate{Lat: v[0], Lon: v[1]}
			b := profile.Coordinate{Lat: v[2], Lon: v[3]}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f km\n", profile.Distance(a, b))
			return nil
		},
	}
}
