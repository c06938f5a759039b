package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"donatrack/services/ledger"
)

// seedFile is the YAML layout accepted by "donatrackctl seed". Passwords may
// reference environment variables as ${NAME}.
type seedFile struct {
	Users      []seedUser     `yaml:"users"`
	Categories []seedCategory `yaml:"categories"`
}

type seedUser struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Phone    string `yaml:"phone"`
	Role     string `yaml:"role"`
}

type seedCategory struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
	Color       string `yaml:"color"`
}

type seedResult struct {
	UsersCreated       int
	UsersExisting      int
	CategoriesCreated  int
	CategoriesExisting int
}

func parseSeed(data []byte) (seedFile, error) {
	var s seedFile
	if err := yaml.Unmarshal(data, &s); err != nil {
		return seedFile{}, fmt.Errorf("parse seed: %w", err)
	}
	if len(s.Users) == 0 && len(s.Categories) == 0 {
		return seedFile{}, errors.New("seed file defines no users or categories")
	}
	for i := range s.Users {
		s.Users[i].Password = os.ExpandEnv(s.Users[i].Password)
		if s.Users[i].Role == "" {
			s.Users[i].Role = string(ledger.RoleOperator)
		}
		if _, err := ledger.ParseRole(s.Users[i].Role); err != nil {
			return seedFile{}, fmt.Errorf("user %q: %w", s.Users[i].Email, err)
		}
	}
	return s, nil
}

// seeder is the subset of the ledger used for seeding.
type seeder interface {
	CreateUser(ctx context.Context, actor ledger.Actor, in ledger.UserInput) (ledger.User, error)
	CreateCategory(ctx context.Context, actor ledger.Actor, in ledger.CategoryInput) (ledger.Category, error)
}

// applySeed creates every entry in s. Entries that already exist are counted
// and skipped so the command can be rerun.
func applySeed(ctx context.Context, svc seeder, s seedFile) (seedResult, error) {
	var res seedResult
	actor := ledger.SystemActor()

	for _, u := range s.Users {
		role, _ := ledger.ParseRole(u.Role)
		_, err := svc.CreateUser(ctx, actor, ledger.UserInput{
			Email:    u.Email,
			Password: u.Password,
			Name:     u.Name,
			Phone:    u.Phone,
			Role:     role,
		})
		switch {
		case err == nil:
			res.UsersCreated++
		case errors.Is(err, ledger.ErrConflict):
			res.UsersExisting++
		default:
			return res, fmt.Errorf("create user %q: %w", u.Email, err)
		}
	}

	for _, c := range s.Categories {
		_, err := svc.CreateCategory(ctx, actor, ledger.CategoryInput{
			Name:        c.Name,
			Description: c.Description,
			Icon:        c.Icon,
			Color:       c.Color,
		})
		switch {
		case err == nil:
			res.CategoriesCreated++
		case errors.Is(err, ledger.ErrConflict):
			res.CategoriesExisting++
		default:
			return res, fmt.Errorf("create category %q: %w", c.Name, err)
		}
	}

	return res, nil
}
