package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/mock"

	"github.com/bbscout/dbbackup/internal/domain"
	"github.com/bbscout/dbbackup/internal/infrastructure/logger"
)

func dailyArtifacts(count int) []string {
	names := make([]string, 0, count)
	for day := 1; day <= count; day++ {
		names = append(names, fmt.Sprintf("bbscout-db-202401%02d-000000.sql.gz", day))
	}
	return names
}

func TestSelectExpired(t *testing.T) {
	Convey("Given SelectExpired", t, func() {
		Convey("With 5 artifacts and keep 3 it should select the two earliest", func() {
			So(SelectExpired(dailyArtifacts(5), 3), ShouldResemble, []string{
				"bbscout-db-20240101-000000.sql.gz",
				"bbscout-db-20240102-000000.sql.gz",
			})
		})

		Convey("With 7 artifacts and keep 7 it should select nothing", func() {
			So(SelectExpired(dailyArtifacts(7), 7), ShouldBeEmpty)
		})

		Convey("With an empty listing it should select nothing", func() {
			So(SelectExpired(nil, 3), ShouldBeEmpty)
		})

		Convey("With an unsorted listing it should order by name", func() {
			input := []string{
				"bbscout-db-20240103-000000.sql.gz",
				"bbscout-db-20240101-000000.sql.gz",
				"bbscout-db-20240104-000000.sql.gz",
				"bbscout-db-20240102-000000.sql.gz",
			}
			So(SelectExpired(input, 2), ShouldResemble, []string{
				"bbscout-db-20240101-000000.sql.gz",
				"bbscout-db-20240102-000000.sql.gz",
			})

			Convey("And leave the input untouched", func() {
				So(input[0], ShouldEqual, "bbscout-db-20240103-000000.sql.gz")
			})
		})

		Convey("For every M and N it should select max(0, M-N) of the oldest", func() {
			for m := 0; m <= 10; m++ {
				names := dailyArtifacts(m)
				for n := 0; n <= 12; n++ {
					expired := SelectExpired(names, n)
					want := max(0, m-n)
					So(expired, ShouldHaveLength, want)
					if want > 0 {
						So(expired, ShouldResemble, names[:want])
					}
				}
			}
		})
	})
}

func TestPruner(t *testing.T) {
	Convey("Given a Pruner", t, func() {
		ctx := context.Background()
		dest := domain.Destination{Remote: "gdrive", Dir: "bbscout-backups"}
		naming := NewArtifactNaming("bbscout-db", ".gz")

		Convey("When the destination holds 5 artifacts and the policy keeps 3", func() {
			store := &MockStore{}
			store.On("List", mock.Anything, dest).Return(dailyArtifacts(5), nil)
			store.On("Delete", mock.Anything, dest, mock.Anything).Return(nil)

			pruned, err := NewPruner(store, naming, logger.Nop()).Prune(ctx, dest, domain.RetentionPolicy{Keep: 3})

			Convey("It should delete exactly the two earliest", func() {
				So(err, ShouldBeNil)
				So(pruned, ShouldResemble, []string{
					"bbscout-db-20240101-000000.sql.gz",
					"bbscout-db-20240102-000000.sql.gz",
				})
				store.AssertNumberOfCalls(t, "Delete", 2)
				store.AssertCalled(t, "Delete", mock.Anything, dest, "bbscout-db-20240101-000000.sql.gz")
				store.AssertCalled(t, "Delete", mock.Anything, dest, "bbscout-db-20240102-000000.sql.gz")
			})
		})

		Convey("When the destination holds exactly 7 artifacts and the policy keeps 7", func() {
			store := &MockStore{}
			store.On("List", mock.Anything, dest).Return(dailyArtifacts(7), nil)

			pruned, err := NewPruner(store, naming, logger.Nop()).Prune(ctx, dest, domain.RetentionPolicy{Keep: 7})

			Convey("It should delete nothing", func() {
				So(err, ShouldBeNil)
				So(pruned, ShouldBeEmpty)
				store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
			})
		})

		Convey("When the destination is empty", func() {
			store := &MockStore{}
			store.On("List", mock.Anything, dest).Return([]string{}, nil)

			pruned, err := NewPruner(store, naming, logger.Nop()).Prune(ctx, dest, domain.RetentionPolicy{Keep: 3})

			Convey("It should be a no-op", func() {
				So(err, ShouldBeNil)
				So(pruned, ShouldBeEmpty)
				store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
			})
		})

		Convey("When the destination holds foreign objects", func() {
			listing := append(dailyArtifacts(4), "README.txt", "aaa-manual-export.sql.gz", "bbscout-db-20240101-000000.sql.gz")
			store := newRecordingStore(listing...)

			pruned, err := NewPruner(store, naming, logger.Nop()).Prune(ctx, dest, domain.RetentionPolicy{Keep: 2})

			Convey("It should neither count nor delete them", func() {
				So(err, ShouldBeNil)
				So(pruned, ShouldResemble, []string{
					"bbscout-db-20240101-000000.sql.gz",
					"bbscout-db-20240102-000000.sql.gz",
				})
				So(store.objects, ShouldContainKey, "README.txt")
				So(store.objects, ShouldContainKey, "aaa-manual-export.sql.gz")
				So(store.objects, ShouldHaveLength, 4)
			})
		})

		Convey("When listing fails", func() {
			store := &MockStore{}
			store.On("List", mock.Anything, dest).Return(nil, errors.New("quota exceeded"))

			_, err := NewPruner(store, naming, logger.Nop()).Prune(ctx, dest, domain.RetentionPolicy{Keep: 3})

			Convey("It should report a retention error", func() {
				So(errors.Is(err, domain.ErrRetention), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "quota exceeded")
				store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
			})
		})

		Convey("When one delete fails", func() {
			store := newRecordingStore(dailyArtifacts(6)...)
			store.failOn["delete bbscout-db-20240102-000000.sql.gz"] = errors.New("permission denied")

			pruned, err := NewPruner(store, naming, logger.Nop()).Prune(ctx, dest, domain.RetentionPolicy{Keep: 3})

			Convey("It should keep going and report the failure", func() {
				So(pruned, ShouldResemble, []string{
					"bbscout-db-20240101-000000.sql.gz",
					"bbscout-db-20240103-000000.sql.gz",
				})
				So(errors.Is(err, domain.ErrRetention), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "failed to delete 1 of 3")
				So(err.Error(), ShouldContainSubstring, "permission denied")
			})
		})
	})
}
