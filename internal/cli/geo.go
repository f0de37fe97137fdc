// Package cli holds the zonectl commands: offline geo checks and a read-only
// view of stored safe zones.
package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/safezone"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

// DistanceCmd returns the distance command
func DistanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "distance LAT1 LNG1 LAT2 LNG2",
		Short: "Great-circle distance between two points",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parsePoint(args[0], args[1])
			if err != nil {
				return err
			}
			b, err := parsePoint(args[2], args[3])
			if err != nil {
				return err
			}

			d := location.DistanceMeters(a, b)
			fmt.Fprintf(cmd.OutOrStdout(), "%.1f m (%.3f km, shown as %s)\n", d, location.MetersToKm(d), location.FormatDistance(d))
			return nil
		},
	}
}

// GeohashCmd returns the geohash command
func GeohashCmd() *cobra.Command {
	var precision int

	cmd := &cobra.Command{
		Use:   "geohash LAT LNG",
		Short: "Encode a point and list the cells a nearby search scans",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePoint(args[0], args[1])
			if err != nil {
				return err
			}
			if precision < 1 || precision > 12 {
				return fmt.Errorf("precision must be 1-12, got %d", precision)
			}

			hash := location.EncodeGeohash(p, precision)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "geohash: %s\n", color.New(color.FgCyan).Sprint(hash))
			fmt.Fprintf(out, "cells:   %s\n", strings.Join(location.GeohashCells(hash), " "))
			return nil
		},
	}
	cmd.Flags().IntVarP(&precision, "precision", "p", 6, "geohash length")
	return cmd
}

// EvaluateCmd returns the evaluate command
func EvaluateCmd() *cobra.Command {
	var (
		lat, lng float64
		zoneArgs []string
		userID   string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a position against safe zones",
		Long: `Evaluate a position against safe zones and print membership and safety score.

Zones come from --zone flags or, with --user, from the configured database.

Examples:
  zonectl evaluate --lat 12.97 --lng 77.59 --zone Home=12.971,77.594,500
  zonectl evaluate --lat 12.97 --lng 77.59 --user u-123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pos := location.Point{Lat: lat, Lng: lng}
			if !pos.Valid() {
				return fmt.Errorf("invalid position %s", pos)
			}

			var zones []safezone.Zone
			for i, raw := range zoneArgs {
				z, err := ParseZone(raw)
				if err != nil {
					return err
				}
				z.ID = fmt.Sprintf("zone-%d", i+1)
				zones = append(zones, z)
			}
			if userID != "" {
				stored, err := loadZones(cmd.Context(), userID)
				if err != nil {
					return err
				}
				zones = append(zones, stored...)
			}
			if len(zones) == 0 {
				return fmt.Errorf("no zones given: use --zone or --user")
			}

			ev := safezone.NewEvaluator("zonectl", safezone.Options{}, logger.NewNop())
			result := ev.Evaluate(location.Position{Point: pos, Source: location.SourceManual}, zones)
			printEvaluation(cmd, result)
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().StringArrayVar(&zoneArgs, "zone", nil, "zone as NAME=LAT,LNG,RADIUS_METERS (repeatable)")
	cmd.Flags().StringVar(&userID, "user", "", "load the user's stored zones")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}

func printEvaluation(cmd *cobra.Command, result safezone.Evaluation) {
	out := cmd.OutOrStdout()
	w := newTable(out)
	fmt.Fprintln(w, "ZONE\tDISTANCE\tSTATUS")
	fmt.Fprintln(w, "----\t--------\t------")
	for _, m := range result.Memberships {
		status := color.New(color.FgRed).Sprint("OUTSIDE")
		if m.Inside {
			status = color.New(color.FgGreen).Sprint("INSIDE")
		}
		fmt.Fprintf(w, "%s\t%.0f m\t%s\n", m.ZoneName, m.DistanceMeters, status)
	}
	for _, id := range result.Skipped {
		fmt.Fprintf(w, "%s\t-\t%s\n", id, color.New(color.FgYellow).Sprint("SKIPPED"))
	}
	w.Flush()

	fmt.Fprintf(out, "\nScore: %d\n", result.Score)
	if result.Protected {
		fmt.Fprintf(out, "Status: %s\n", color.New(color.FgGreen).Sprint("protected"))
	} else {
		fmt.Fprintf(out, "Status: %s\n", color.New(color.FgRed).Sprint("outside all safe zones"))
	}
}

// ParseZone reads NAME=LAT,LNG,RADIUS_METERS.
func ParseZone(raw string) (safezone.Zone, error) {
	name, geom, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return safezone.Zone{}, fmt.Errorf("zone %q: expected NAME=LAT,LNG,RADIUS", raw)
	}
	parts := strings.Split(geom, ",")
	if len(parts) != 3 {
		return safezone.Zone{}, fmt.Errorf("zone %q: expected NAME=LAT,LNG,RADIUS", raw)
	}
	center, err := parsePoint(parts[0], parts[1])
	if err != nil {
		return safezone.Zone{}, fmt.Errorf("zone %q: %w", raw, err)
	}
	radius, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return safezone.Zone{}, fmt.Errorf("zone %q: bad radius: %w", raw, err)
	}
	return safezone.Zone{Name: strings.TrimSpace(name), Center: &center, RadiusMeters: radius}, nil
}

func parsePoint(latStr, lngStr string) (location.Point, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return location.Point{}, fmt.Errorf("bad latitude %q", latStr)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return location.Point{}, fmt.Errorf("bad longitude %q", lngStr)
	}
	p := location.Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return location.Point{}, fmt.Errorf("point %s out of range", p)
	}
	return p, nil
}
