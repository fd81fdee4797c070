package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vetcare/vetcare/internal/config"
	"github.com/vetcare/vetcare/internal/domain/scheduling"
	"github.com/vetcare/vetcare/internal/platform/db"
	"github.com/vetcare/vetcare/internal/platform/lock"
	"github.com/vetcare/vetcare/pkg/timerange"
)

var seedAppointmentTypes = []string{"checkup", "vaccination", "dental", "grooming", "follow_up", "consultation"}

// vetPlan is the demo calendar generated for one vet.
type vetPlan struct {
	VetID    uuid.UUID
	Slots    []scheduling.WeeklySlotInput
	Holidays []scheduling.HolidayInput
}

// buildSeedPlan generates weekday templates with a one hour lunch break,
// an optional Saturday morning and one holiday in the coming weeks.
func buildSeedPlan(f *gofakeit.Faker, vets int, today time.Time) []vetPlan {
	plans := make([]vetPlan, 0, vets)
	for i := 0; i < vets; i++ {
		p := vetPlan{VetID: uuid.New()}
		for _, day := range scheduling.Weekdays[:5] {
			startHour := f.Number(7, 10)
			hours := f.Number(6, 9)
			lunch := startHour + f.Number(3, 4)
			p.Slots = append(p.Slots,
				scheduling.WeeklySlotInput{
					DayOfWeek: day,
					StartTime: timerange.NewClock(startHour, 0, 0),
					EndTime:   timerange.NewClock(startHour+hours, 0, 0),
				},
				scheduling.WeeklySlotInput{
					DayOfWeek: day,
					StartTime: timerange.NewClock(lunch, 0, 0),
					EndTime:   timerange.NewClock(lunch+1, 0, 0),
					IsBreak:   true,
				},
			)
		}
		if f.Bool() {
			p.Slots = append(p.Slots, scheduling.WeeklySlotInput{
				DayOfWeek: scheduling.Saturday,
				StartTime: timerange.NewClock(9, 0, 0),
				EndTime:   timerange.NewClock(13, 0, 0),
			})
		}

		start := today.AddDate(0, 0, f.Number(14, 60))
		reason := "Annual leave"
		p.Holidays = append(p.Holidays, scheduling.HolidayInput{
			StartDate: start,
			EndDate:   start.AddDate(0, 0, f.Number(0, 6)),
			Reason:    &reason,
		})
		plans = append(plans, p)
	}
	return plans
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate demo vets, templates, holidays and bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			vets, _ := cmd.Flags().GetInt("vets")
			perVet, _ := cmd.Flags().GetInt("appointments")
			seed, _ := cmd.Flags().GetUint64("seed")
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := scheduling.NewService(
				scheduling.NewWeeklySlotRepoPG(pool),
				scheduling.NewHolidayRepoPG(pool),
				scheduling.NewAppointmentRepoPG(pool),
				scheduling.NewConsultationRepoPG(pool),
				lock.NewLocal(),
				scheduling.Config{Location: loc, MeetingBaseURL: cfg.MeetingBaseURL},
				scheduling.WithTxRunner(db.NewTxRunner(pool)),
			)

			f := gofakeit.New(seed)
			for _, p := range buildSeedPlan(f, vets, svc.Today()) {
				booked, err := applySeedPlan(ctx, svc, f, p, perVet)
				if err != nil {
					return fmt.Errorf("seed vet %s: %w", p.VetID, err)
				}
				fmt.Printf("vet %s: %d slots, %d holidays, %d appointments\n",
					p.VetID, len(p.Slots), len(p.Holidays), booked)
			}
			return nil
		},
	}
	cmd.Flags().Int("vets", 5, "Number of vets to create")
	cmd.Flags().Int("appointments", 10, "Confirmed appointments to book per vet")
	cmd.Flags().Uint64("seed", 0, "Random seed (0 picks one)")
	return cmd
}

func applySeedPlan(ctx context.Context, svc *scheduling.Service, f *gofakeit.Faker, p vetPlan, appointments int) (int, error) {
	vet := scheduling.Actor{UserID: "seed", VetID: p.VetID}
	for _, in := range p.Slots {
		if _, err := svc.CreateWeeklySlot(ctx, vet, in); err != nil {
			return 0, err
		}
	}
	for _, in := range p.Holidays {
		if _, err := svc.CreateHoliday(ctx, vet, in); err != nil {
			return 0, err
		}
	}

	booked := 0
	date := svc.Today().AddDate(0, 0, 1)
	for day := 0; day < 14 && booked < appointments; day, date = day+1, date.AddDate(0, 0, 1) {
		free, err := svc.FreeSlots(ctx, p.VetID, date, 30)
		if err != nil {
			return booked, err
		}
		for n := f.Number(0, 3); n > 0 && len(free) > 0 && booked < appointments; n-- {
			i := f.Number(0, len(free)-1)
			slot := free[i]
			free = append(free[:i], free[i+1:]...)

			_, err := svc.ScheduleAppointment(ctx, vet, scheduling.AppointmentInput{
				ClientID:  uuid.New(),
				PetID:     uuid.New(),
				Date:      slot.Date,
				StartTime: slot.StartTime,
				EndTime:   slot.EndTime,
				Type:      seedAppointmentTypes[f.Number(0, len(seedAppointmentTypes)-1)],
				Reason:    "Routine visit",
				IsVideo:   f.Number(1, 5) == 1,
			})
			if err != nil {
				return booked, err
			}
			booked++
		}
	}
	return booked, nil
}
