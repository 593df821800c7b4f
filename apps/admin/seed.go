package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/clubcourse"
	"github.com/benhuang0857/mclass/core/flipcourse"
	"github.com/benhuang0857/mclass/core/user"
)

// demoPassword is the password of every demo account.
const demoPassword = "mclass-demo-2024"

var (
	seedCategories = []catalog.NewCategory{
		{Name: "Courses", Slug: "courses"},
		{Name: "Clubs", Slug: "clubs"},
		{Name: "Counseling", Slug: "counseling"},
		{Name: "Materials", Slug: "materials"},
	}

	seedProducts = []struct {
		category string // slug
		product  catalog.NewProduct
	}{
		{"courses", catalog.NewProduct{Kind: catalog.KindCourse, Name: "Flip Course: 12 weeks", PriceCents: 1200000, Currency: "TWD"}},
		{"clubs", catalog.NewProduct{Kind: catalog.KindClub, Name: "Reading Club Pass", PriceCents: 150000, Currency: "TWD"}},
		{"counseling", catalog.NewProduct{Kind: catalog.KindCounseling, Name: "Counseling Session (1h)", PriceCents: 200000, Currency: "TWD"}},
		{"materials", catalog.NewProduct{Kind: catalog.KindMaterial, Name: "Study Planner Workbook", PriceCents: 45000, Currency: "TWD", Stock: intPtr(100)}},
	}

	demoUsers = []struct {
		name, uname string
		roles       []string
	}{
		{"Demo Planner", "planner", []string{user.RolePlanner}},
		{"Demo Counselor", "counselor", []string{user.RoleCounselor}},
		{"Demo Analyst", "analyst", []string{user.RoleAnalyst}},
		{"Demo Teacher", "teacher", []string{user.RoleTeacher}},
		{"Demo Student", "student", []string{user.RoleStudent}},
	}
)

func intPtr(i int) *int { return &i }

// seed creates what is missing; it is safe to run repeatedly.
func (cli *commandLine) seed(demo bool) error {
	ctx := context.Background()
	products, err := cli.seedCatalog(ctx)
	if err != nil {
		return err
	}
	if !demo {
		return nil
	}
	users, err := cli.seedDemoUsers(ctx)
	if err != nil {
		return err
	}
	if err := cli.seedClubCourse(ctx, products["Reading Club Pass"], users["teacher"]); err != nil {
		return err
	}
	return cli.seedFlipCourse(ctx, users)
}

func (cli *commandLine) seedCatalog(ctx context.Context) (map[string]catalog.Product, error) {
	cats, err := cli.svcs.Catalog.QueryCategories(ctx)
	if err != nil {
		return nil, err
	}
	bySlug := make(map[string]catalog.Category, len(cats))
	for _, c := range cats {
		bySlug[c.Slug] = c
	}
	for _, nc := range seedCategories {
		if _, ok := bySlug[nc.Slug]; ok {
			continue
		}
		if err := nc.Validate(cli.validate); err != nil {
			return nil, err
		}
		c, err := cli.svcs.Catalog.CreateCategory(ctx, nc)
		if err != nil {
			return nil, errors.Wrapf(err, "seeding category %q", nc.Slug)
		}
		bySlug[c.Slug] = c
		fmt.Fprintf(cli.out, "category %q created\n", c.Slug)
	}

	products := make(map[string]catalog.Product, len(seedProducts))
	for _, sp := range seedProducts {
		found, err := cli.svcs.Catalog.QueryProducts(ctx, &catalog.QueryFilter{Search: sp.product.Name}, nil)
		if err != nil {
			return nil, err
		}
		for _, p := range found {
			if strings.EqualFold(p.Name, sp.product.Name) {
				products[p.Name] = p
			}
		}
		if _, ok := products[sp.product.Name]; ok {
			continue
		}

		np := sp.product
		catID := bySlug[sp.category].ID
		np.CategoryID = &catID
		if err := np.Validate(cli.validate); err != nil {
			return nil, err
		}
		p, err := cli.svcs.Catalog.CreateProduct(ctx, np)
		if err != nil {
			return nil, errors.Wrapf(err, "seeding product %q", np.Name)
		}
		products[p.Name] = p
		fmt.Fprintf(cli.out, "product %q created\n", p.Name)
	}
	return products, nil
}

func (cli *commandLine) seedDemoUsers(ctx context.Context) (map[string]user.User, error) {
	users := make(map[string]user.User, len(demoUsers))
	for _, du := range demoUsers {
		usr, err := cli.svcs.Users.GetByUsername(ctx, du.uname)
		if err == nil {
			users[du.uname] = usr
			continue
		}
		if errors.Cause(err) != user.ErrNotFound {
			return nil, err
		}
		usr, err = cli.svcs.Users.Create(ctx, user.NewUser{
			Name:     du.name,
			Username: du.uname,
			Email:    du.uname + "@demo.mclass.local",
			Password: demoPassword,
			Roles:    du.roles,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "seeding user %q", du.uname)
		}
		users[du.uname] = usr
		fmt.Fprintf(cli.out, "user %q created\n", usr.Username)
	}
	return users, nil
}

const demoClubTitle = "Weekend Reading Club"

func (cli *commandLine) seedClubCourse(ctx context.Context, product catalog.Product, teacher user.User) error {
	found, err := cli.svcs.ClubCourses.List(ctx, &clubcourse.QueryFilter{Search: demoClubTitle}, nil)
	if err != nil {
		return err
	}
	if len(found) > 0 {
		return nil
	}

	start := time.Now().UTC().Add(7 * 24 * time.Hour).Truncate(time.Hour)
	nc := clubcourse.NewClubCourse{
		ProductID:   &product.ID,
		Title:       demoClubTitle,
		Description: "Read and discuss one short novel every weekend.",
		TeacherID:   &teacher.ID,
		Location:    "Room 201",
		Capacity:    12,
		StartsAt:    start,
		EndsAt:      start.Add(2 * time.Hour),
	}
	if err := nc.Validate(cli.validate); err != nil {
		return err
	}
	c, err := cli.svcs.ClubCourses.Create(ctx, nc)
	if err != nil {
		return errors.Wrap(err, "seeding club course")
	}
	fmt.Fprintf(cli.out, "club course %q created\n", c.Title)
	return nil
}

func (cli *commandLine) seedFlipCourse(ctx context.Context, users map[string]user.User) error {
	planner, student := users["planner"], users["student"]
	found, err := cli.svcs.FlipCourses.List(ctx, &flipcourse.QueryFilter{StudentID: student.ID}, nil, planner)
	if err != nil {
		return err
	}
	if len(found) > 0 {
		return nil
	}

	counselorID, analystID := users["counselor"].ID, users["analyst"].ID
	nf := flipcourse.NewFlipCourse{
		Title:       "Demo Flip Course",
		Description: "A first learning cycle for the demo student.",
		StudentID:   student.ID,
		CounselorID: &counselorID,
		AnalystID:   &analystID,
	}
	if err := nf.Validate(cli.validate); err != nil {
		return err
	}
	fc, err := cli.svcs.FlipCourses.Create(ctx, nf, planner)
	if err != nil {
		return errors.Wrap(err, "seeding flip course")
	}
	fmt.Fprintf(cli.out, "flip course %q created\n", fc.Title)
	return nil
}
