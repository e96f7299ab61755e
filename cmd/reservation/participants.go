package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ABeGood/reservation-pl/config"
	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/store"
)

// Short names accepted on the command line next to the booking form values.
var (
	citizenshipAliases = map[string]domain.Citizenship{
		"belarus":   domain.CitizenshipBelarus,
		"russia":    domain.CitizenshipRussia,
		"ukraine":   domain.CitizenshipUkraine,
		"stateless": domain.CitizenshipStateless,
	}
	applicationAliases = map[string]domain.ApplicationType{
		"adult":  domain.ApplicationAdult,
		"family": domain.ApplicationAdultWithChildren,
		"minor":  domain.ApplicationMinor,
	}
)

func newParticipantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "participants",
		Short: "Manage the participants waiting for a slot",
	}
	cmd.AddCommand(
		newParticipantsListCmd(),
		newParticipantsAddCmd(),
		newParticipantsDeleteCmd(),
		newParticipantsStatsCmd(),
	)
	return cmd
}

func newParticipantsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored participants",
		RunE:  runParticipantsList,
	}
	addConfigFlag(cmd)
	cmd.Flags().Bool("pending", false, "only show pending participants")
	cmd.Flags().String("email", "", "only show the participant with this email")
	return cmd
}

func runParticipantsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	repo, err := config.OpenRepository(cmd.Context(), cfg.Storage)
	if err != nil {
		return err
	}
	defer repo.Close()

	pendingOnly, _ := cmd.Flags().GetBool("pending")
	email, _ := cmd.Flags().GetString("email")
	var list []domain.Participant
	switch {
	case email != "":
		var p domain.Participant
		p, err = repo.GetByEmail(cmd.Context(), email)
		list = []domain.Participant{p}
	case pendingOnly:
		list, err = repo.ListPending(cmd.Context())
	default:
		list, err = repo.List(cmd.Context())
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCITIZENSHIP\tTYPE\tMONTH\tSTATUS")
	for _, p := range list {
		month := "any"
		if p.DesiredMonth != 0 {
			month = fmt.Sprint(p.DesiredMonth)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.FullName(), p.Citizenship, p.ApplicationType, month, p.Status)
	}
	return w.Flush()
}

func newParticipantsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a pending participant",
		Long: `Add a pending participant to the configured store. A running service
picks the participant up on its next refresh.

Citizenship accepts belarus, russia, ukraine or stateless; type accepts
adult, family or minor. The booking form values are accepted as well.

Example:
  reservation participants add -c reservation.yaml \
    --name Olena --surname Kowalenko --citizenship ukraine \
    --email olena@example.com --phone +48500100200 --type adult --month 7`,
		RunE: runParticipantsAdd,
	}
	addConfigFlag(cmd)
	f := cmd.Flags()
	f.String("name", "", "first name")
	f.String("surname", "", "surname")
	f.String("citizenship", "", "citizenship")
	f.String("email", "", "email address")
	f.String("phone", "", "phone number")
	f.String("type", "adult", "application type")
	f.Int("month", 0, "desired month (1-12), 0 for any")
	for _, name := range []string{"name", "surname", "citizenship", "email", "phone"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runParticipantsAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	get := func(name string) string {
		v, _ := f.GetString(name)
		return strings.TrimSpace(v)
	}
	month, _ := f.GetInt("month")

	p := domain.Participant{
		Name:            get("name"),
		Surname:         get("surname"),
		Citizenship:     domain.Citizenship(get("citizenship")),
		Email:           get("email"),
		Phone:           get("phone"),
		ApplicationType: domain.ApplicationType(get("type")),
		DesiredMonth:    month,
	}
	if c, ok := citizenshipAliases[strings.ToLower(string(p.Citizenship))]; ok {
		p.Citizenship = c
	}
	if a, ok := applicationAliases[strings.ToLower(string(p.ApplicationType))]; ok {
		p.ApplicationType = a
	}

	repo, err := openPersistent(cmd, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	added, err := repo.Add(cmd.Context(), p)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added participant %d (%s)\n", added.ID, added.FullName())
	return nil
}

// openPersistent opens the configured store for commands that change it.
func openPersistent(cmd *cobra.Command, cfg *config.Config) (store.Repository, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		return nil, fmt.Errorf("storage driver %q does not persist participants; configure sqlite or postgres", cfg.Storage.Driver)
	}
	return config.OpenRepository(cmd.Context(), cfg.Storage)
}

func newParticipantsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a participant and its reservations",
		Args:  cobra.ExactArgs(1),
		RunE:  runParticipantsDelete,
	}
	addConfigFlag(cmd)
	return cmd
}

func runParticipantsDelete(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid participant id %q", args[0])
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	repo, err := openPersistent(cmd, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.Delete(cmd.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("participant %d does not exist", id)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted participant %d\n", id)
	return nil
}

func newParticipantsStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count participants by status, citizenship and desired month",
		RunE:  runParticipantsStats,
	}
	addConfigFlag(cmd)
	return cmd
}

func runParticipantsStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	repo, err := config.OpenRepository(cmd.Context(), cfg.Storage)
	if err != nil {
		return err
	}
	defer repo.Close()

	st, err := repo.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total:   %d\n", st.Total)
	fmt.Fprintf(out, "Pending: %d\n", st.Pending)
	fmt.Fprintf(out, "Claimed: %d\n", st.Claimed)
	if st.Failed > 0 {
		fmt.Fprintf(out, "Failed:  %d\n", st.Failed)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nCITIZENSHIP\tCOUNT")
	citizenships := make([]string, 0, len(st.ByCitizenship))
	for c := range st.ByCitizenship {
		citizenships = append(citizenships, string(c))
	}
	sort.Strings(citizenships)
	for _, c := range citizenships {
		fmt.Fprintf(w, "%s\t%d\n", c, st.ByCitizenship[domain.Citizenship(c)])
	}

	fmt.Fprintln(w, "\nMONTH\tCOUNT")
	months := make([]int, 0, len(st.ByMonth))
	for m := range st.ByMonth {
		months = append(months, m)
	}
	sort.Ints(months)
	for _, m := range months {
		label := "any"
		if m != 0 {
			label = strconv.Itoa(m)
		}
		fmt.Fprintf(w, "%s\t%d\n", label, st.ByMonth[m])
	}
	return w.Flush()
}
