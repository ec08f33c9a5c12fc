package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dukerupert/famevents/internal/database"
	"github.com/dukerupert/famevents/internal/event"
	"github.com/dukerupert/famevents/internal/metrics"
	"github.com/dukerupert/famevents/internal/model"
	"github.com/dukerupert/famevents/internal/notify"
	"github.com/dukerupert/famevents/internal/store"
)

var familyCmd = &cobra.Command{
	Use:   "family",
	Short: "Manage families and their members",
}

var familyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a family",
	Args:  cobra.ExactArgs(1),
	RunE: withFamilies(func(cmd *cobra.Command, a *familyAdmin, args []string) error {
		f, err := a.create(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), f.ID)
		return nil
	}),
}

var familyAddMemberCmd = &cobra.Command{
	Use:   "add-member <family-id> <user-id> <PARENT|CHILD>",
	Short: "Add a user to a family",
	Args:  cobra.ExactArgs(3),
	RunE: withFamilies(func(cmd *cobra.Command, a *familyAdmin, args []string) error {
		role, err := parseRole(args[2])
		if err != nil {
			return err
		}
		m, err := a.addMember(cmd.Context(), args[0], args[1], role)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s joined as %s\n", m.UserID, m.Role)
		return nil
	}),
}

var familyRemoveMemberCmd = &cobra.Command{
	Use:   "remove-member <family-id> <user-id>",
	Short: "Remove a user from a family",
	Args:  cobra.ExactArgs(2),
	RunE: withFamilies(func(cmd *cobra.Command, a *familyAdmin, args []string) error {
		return a.removeMember(cmd.Context(), args[0], args[1])
	}),
}

var familySetRoleCmd = &cobra.Command{
	Use:   "set-role <family-id> <user-id> <PARENT|CHILD>",
	Short: "Change a member's role",
	Args:  cobra.ExactArgs(3),
	RunE: withFamilies(func(cmd *cobra.Command, a *familyAdmin, args []string) error {
		role, err := parseRole(args[2])
		if err != nil {
			return err
		}
		return a.setRole(cmd.Context(), args[0], args[1], role)
	}),
}

var familyMembersCmd = &cobra.Command{
	Use:   "members <family-id>",
	Short: "List active members of a family",
	Args:  cobra.ExactArgs(1),
	RunE: withFamilies(func(cmd *cobra.Command, a *familyAdmin, args []string) error {
		members, err := a.families.ListMembers(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "USER\tROLE\tJOINED")
		for _, m := range members {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.UserID, m.Role, m.CreatedAt.Format("2006-01-02"))
		}
		return tw.Flush()
	}),
}

func init() {
	familyCmd.AddCommand(familyCreateCmd, familyAddMemberCmd, familyRemoveMemberCmd, familySetRoleCmd, familyMembersCmd)
}

// familyHooks is the part of the event service told about family changes.
type familyHooks interface {
	HandleUserCreated(ctx context.Context, userID, familyID string) error
	HandleFamilyUpdated(ctx context.Context, familyID string, payload any) error
}

// familyAdmin applies membership changes and announces each one.
type familyAdmin struct {
	families *store.FamilyStore
	hooks    familyHooks
}

func (a *familyAdmin) create(ctx context.Context, name string) (*model.Family, error) {
	f, err := a.families.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	err = a.hooks.HandleFamilyUpdated(ctx, f.ID, map[string]any{"action": "created", "name": f.Name})
	return f, err
}

func (a *familyAdmin) addMember(ctx context.Context, familyID, userID string, role model.Role) (*model.FamilyMember, error) {
	if err := a.requireFamily(ctx, familyID); err != nil {
		return nil, err
	}
	m, err := a.families.AddMember(ctx, familyID, userID, role)
	if err != nil {
		return nil, err
	}
	if err := a.hooks.HandleUserCreated(ctx, userID, familyID); err != nil {
		return m, err
	}
	err = a.hooks.HandleFamilyUpdated(ctx, familyID, map[string]any{"action": "member_added", "userId": userID, "role": role})
	return m, err
}

func (a *familyAdmin) removeMember(ctx context.Context, familyID, userID string) error {
	if err := a.families.RemoveMember(ctx, familyID, userID); err != nil {
		return err
	}
	return a.hooks.HandleFamilyUpdated(ctx, familyID, map[string]any{"action": "member_removed", "userId": userID})
}

func (a *familyAdmin) setRole(ctx context.Context, familyID, userID string, role model.Role) error {
	m, err := a.families.UpdateMemberRole(ctx, familyID, userID, role)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%s is not an active member of %s", userID, familyID)
	}
	return a.hooks.HandleFamilyUpdated(ctx, familyID, map[string]any{"action": "role_changed", "userId": userID, "role": role})
}

// withFamilies opens the database and the configured notification sinks
// for one command. The websocket hub lives in the server process, so only
// Redis and Kafka subscribers hear about CLI changes.
func withFamilies(fn func(*cobra.Command, *familyAdmin, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		pubs, closers, err := externalPublishers(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			for _, c := range closers {
				c()
			}
		}()

		fs := store.NewFamilyStore(db)
		svc := event.NewService(store.NewEventStore(db), fs, notify.Multi(pubs), cfg.Events.Policy(), logger,
			event.WithRecorder(metrics.Recorder{}))
		return fn(cmd, &familyAdmin{families: fs, hooks: svc}, args)
	}
}

func (a *familyAdmin) requireFamily(ctx context.Context, id string) error {
	f, err := a.families.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("family %s not found", id)
	}
	return nil
}

func parseRole(s string) (model.Role, error) {
	switch r := model.Role(strings.ToUpper(s)); r {
	case model.RoleParent, model.RoleChild:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q (want PARENT or CHILD)", s)
}
