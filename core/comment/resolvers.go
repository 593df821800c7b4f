package comment

import (
	"context"

	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/clubcourse"
	"github.com/benhuang0857/mclass/core/flipcourse"
	"github.com/benhuang0857/mclass/core/user"
)

type (
	ProductGetter interface {
		GetProduct(ctx context.Context, id string) (catalog.Product, error)
	}

	ClubCourseGetter interface {
		Get(ctx context.Context, id string) (clubcourse.ClubCourse, error)
	}

	FlipCourseGetter interface {
		Get(ctx context.Context, id string, caller user.User) (flipcourse.FlipCourse, error)
	}
)

// NewResolvers maps every target type to the service owning it.
// Inactive products are only visible to admins; flip courses only to their participants.
func NewResolvers(products ProductGetter, clubCourses ClubCourseGetter, flipCourses FlipCourseGetter) map[TargetType]TargetResolver {
	return map[TargetType]TargetResolver{
		TargetProduct: ResolverFunc(func(ctx context.Context, id string, caller user.User) error {
			p, err := products.GetProduct(ctx, id)
			if err != nil {
				return err
			}
			if !p.IsActive && !caller.IsAdmin() {
				return catalog.ErrProductNotFound
			}
			return nil
		}),
		TargetClubCourse: ResolverFunc(func(ctx context.Context, id string, _ user.User) error {
			_, err := clubCourses.Get(ctx, id)
			return err
		}),
		TargetFlipCourse: ResolverFunc(func(ctx context.Context, id string, caller user.User) error {
			_, err := flipCourses.Get(ctx, id, caller)
			return err
		}),
	}
}
