package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tripsync/internal/app"
	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

// parseTime accepts RFC3339 timestamps or plain dates.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}

func optionalTime(cmd *cobra.Command, flag string) (*time.Time, error) {
	s, _ := cmd.Flags().GetString(flag)
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// refresh pulls remote changes before listing. Failures leave the local
// view in place.
func refresh[T model.Payload](ctx context.Context, s *tripsync.EntityStore[T]) tripsync.Snapshot[T] {
	_ = s.Refresh(ctx)
	return s.Snapshot()
}

func marker(pending, rejected bool) string {
	switch {
	case rejected:
		return "!"
	case pending:
		return "*"
	}
	return " "
}

func removeCmd[T model.Payload](use string, store func(*app.App) *tripsync.EntityStore[T]) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if _, err := store(a).Mutate(tripsync.Delete[T](args[0])); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

// flight command
var flightCmd = &cobra.Command{
	Use:   "flight",
	Short: "Manage saved flights",
}

var flightAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Save a flight",
	RunE: func(cmd *cobra.Command, args []string) error {
		number, _ := cmd.Flags().GetString("number")
		airline, _ := cmd.Flags().GetString("airline")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		status, _ := cmd.Flags().GetString("status")
		source, _ := cmd.Flags().GetString("source")
		departs, err := optionalTime(cmd, "departs")
		if err != nil {
			return err
		}
		arrives, err := optionalTime(cmd, "arrives")
		if err != nil {
			return err
		}

		f := model.Flight{
			FlightNumber: strings.ToUpper(number),
			Airline:      airline,
			Departure:    model.AirportStop{Code: from, ScheduledAt: departs},
			Arrival:      model.AirportStop{Code: to, ScheduledAt: arrives},
			Status:       model.FlightStatus(status),
			Source:       model.Source(source),
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			id, err := a.AddFlight(ctx, f)
			if err != nil {
				return err
			}
			fmt.Printf("Saved flight %s (%s)\n", f.FlightNumber, id)
			return nil
		})
	},
}

var flightListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved flights",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			snap := refresh(ctx, a.Service().Flights)
			if len(snap.Items) == 0 {
				fmt.Println("No flights.")
				return nil
			}
			for _, e := range snap.Items {
				f := e.Value
				fmt.Printf("%s %s\t%s\t%s -> %s\t%s\n", marker(e.Pending, e.Rejected), e.ID,
					f.FlightNumber, f.Departure.Code, f.Arrival.Code, f.Status)
			}
			return nil
		})
	},
}

// trip command
var tripCmd = &cobra.Command{
	Use:   "trip",
	Short: "Manage trips",
}

var tripAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Create a trip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		starts, err := optionalTime(cmd, "starts")
		if err != nil {
			return err
		}
		ends, err := optionalTime(cmd, "ends")
		if err != nil {
			return err
		}
		notes, _ := cmd.Flags().GetString("notes")
		t := model.Trip{Title: args[0], StartsAt: starts, EndsAt: ends, Notes: notes}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			id, err := a.Service().Trips.Mutate(tripsync.Put("", t))
			if err != nil {
				return err
			}
			fmt.Printf("Created trip %q (%s)\n", t.Title, id)
			return nil
		})
	},
}

var tripListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trips",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			snap := refresh(ctx, a.Service().Trips)
			if len(snap.Items) == 0 {
				fmt.Println("No trips.")
				return nil
			}
			for _, e := range snap.Items {
				dates := ""
				if e.Value.StartsAt != nil {
					dates = e.Value.StartsAt.Format(time.DateOnly)
				}
				if e.Value.EndsAt != nil {
					dates += ".." + e.Value.EndsAt.Format(time.DateOnly)
				}
				fmt.Printf("%s %s\t%s\t%s\n", marker(e.Pending, e.Rejected), e.ID, e.Value.Title, dates)
			}
			return nil
		})
	},
}

// entry command
var entryCmd = &cobra.Command{
	Use:   "entry",
	Short: "Manage trip timeline entries",
}

var entryAddCmd = &cobra.Command{
	Use:   "add TRIP-ID CONTENT",
	Short: "Add an entry to a trip",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := optionalTime(cmd, "at")
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			svc := a.Service()
			if _, ok := svc.Trips.Get(args[0]); !ok {
				return fmt.Errorf("trip %s: %w", args[0], tripsync.ErrNotFound)
			}
			e := model.TripEntry{TripID: args[0], Content: args[1], OccurredAt: time.Now().UTC()}
			if at != nil {
				e.OccurredAt = *at
			}
			id, err := svc.Entries.Mutate(tripsync.Put("", e))
			if err != nil {
				return err
			}
			fmt.Printf("Added entry %s\n", id)
			return nil
		})
	},
}

var entryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trip entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		tripID, _ := cmd.Flags().GetString("trip")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			snap := refresh(ctx, a.Service().Entries)
			n := 0
			for _, e := range snap.Items {
				if tripID != "" && e.Value.TripID != tripID {
					continue
				}
				n++
				fmt.Printf("%s %s\t%s\t%s\t%s\n", marker(e.Pending, e.Rejected), e.ID, e.Value.TripID,
					e.Value.OccurredAt.Local().Format(time.DateTime), e.Value.Content)
			}
			if n == 0 {
				fmt.Println("No entries.")
			}
			return nil
		})
	},
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Manage search history",
}

var searchAddCmd = &cobra.Command{
	Use:   "add QUERY",
	Short: "Record a search",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := model.SearchHistory{Query: strings.Join(args, " "), SearchedAt: time.Now().UTC()}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			_, err := a.Service().Searches.Mutate(tripsync.Put("", h))
			return err
		})
	},
}

var searchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent searches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			snap := refresh(ctx, a.Service().Searches)
			for i := len(snap.Items) - 1; i >= 0; i-- {
				e := snap.Items[i]
				fmt.Printf("%s\t%s\n", e.Value.SearchedAt.Local().Format(time.DateTime), e.Value.Query)
			}
			return nil
		})
	},
}

func init() {
	flightCmd.AddCommand(flightAddCmd)
	flightCmd.AddCommand(flightListCmd)
	flightCmd.AddCommand(removeCmd("rm", func(a *app.App) *tripsync.EntityStore[model.Flight] { return a.Service().Flights }))
	flightAddCmd.Flags().String("number", "", "Flight number, e.g. NH7")
	flightAddCmd.Flags().String("airline", "", "Airline name")
	flightAddCmd.Flags().String("from", "", "Departure airport code")
	flightAddCmd.Flags().String("to", "", "Arrival airport code")
	flightAddCmd.Flags().String("departs", "", "Scheduled departure (YYYY-MM-DD or RFC3339)")
	flightAddCmd.Flags().String("arrives", "", "Scheduled arrival (YYYY-MM-DD or RFC3339)")
	flightAddCmd.Flags().String("status", string(model.FlightScheduled), "Flight status")
	flightAddCmd.Flags().String("source", string(model.SourceManual), "How the flight was entered (manual, scan, import)")
	flightAddCmd.MarkFlagRequired("number")
	flightAddCmd.MarkFlagRequired("from")
	flightAddCmd.MarkFlagRequired("to")

	tripCmd.AddCommand(tripAddCmd)
	tripCmd.AddCommand(tripListCmd)
	tripCmd.AddCommand(removeCmd("rm", func(a *app.App) *tripsync.EntityStore[model.Trip] { return a.Service().Trips }))
	tripAddCmd.Flags().String("starts", "", "Start date")
	tripAddCmd.Flags().String("ends", "", "End date")
	tripAddCmd.Flags().String("notes", "", "Notes")

	entryCmd.AddCommand(entryAddCmd)
	entryCmd.AddCommand(entryListCmd)
	entryCmd.AddCommand(removeCmd("rm", func(a *app.App) *tripsync.EntityStore[model.TripEntry] { return a.Service().Entries }))
	entryAddCmd.Flags().String("at", "", "When it happened (default now)")
	entryListCmd.Flags().String("trip", "", "Only entries of this trip")

	searchCmd.AddCommand(searchAddCmd)
	searchCmd.AddCommand(searchListCmd)
}
