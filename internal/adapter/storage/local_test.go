package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/bbscout/dbbackup/internal/domain"
)

func TestLocalStorage(t *testing.T) {
	Convey("Given a LocalStorage", t, func() {
		tempDir, err := os.MkdirTemp("", "local_storage_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tempDir)

		storage := NewLocal(tempDir)
		dest := domain.Destination{Remote: "local", Dir: "nested/backups"}
		ctx := context.Background()

		Convey("EnsureDir method", func() {
			err := storage.EnsureDir(ctx, dest)

			Convey("It should create the directory and be idempotent", func() {
				So(err, ShouldBeNil)
				info, err := os.Stat(filepath.Join(tempDir, "nested", "backups"))
				So(err, ShouldBeNil)
				So(info.IsDir(), ShouldBeTrue)
				So(storage.EnsureDir(ctx, dest), ShouldBeNil)
			})
		})

		Convey("Upload method", func() {
			So(storage.EnsureDir(ctx, dest), ShouldBeNil)

			Convey("When uploading a valid file", func() {
				sourceFile := filepath.Join(tempDir, "source.sql.gz")
				So(os.WriteFile(sourceFile, []byte("test content"), 0644), ShouldBeNil)

				err := storage.Upload(ctx, sourceFile, dest, "bbscout-db-20240101-000000.sql.gz")

				Convey("It should place the file under its name and leave no temp file", func() {
					So(err, ShouldBeNil)
					content, err := os.ReadFile(filepath.Join(tempDir, "nested", "backups", "bbscout-db-20240101-000000.sql.gz"))
					So(err, ShouldBeNil)
					So(string(content), ShouldEqual, "test content")

					entries, _ := os.ReadDir(filepath.Join(tempDir, "nested", "backups"))
					So(entries, ShouldHaveLength, 1)
				})
			})

			Convey("When the source file does not exist", func() {
				err := storage.Upload(ctx, filepath.Join(tempDir, "nonexistent"), dest, "x.sql.gz")

				Convey("It should return error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to open source")
				})
			})
		})

		Convey("List method", func() {
			dir := filepath.Join(tempDir, "nested", "backups")
			So(os.MkdirAll(filepath.Join(dir, "subdir"), 0755), ShouldBeNil)
			os.WriteFile(filepath.Join(dir, "file1.sql.gz"), []byte("test"), 0644)
			os.WriteFile(filepath.Join(dir, "file2.sql.gz"), []byte("test"), 0644)
			os.WriteFile(filepath.Join(dir, ".upload-123"), []byte("partial"), 0644)

			files, err := storage.List(ctx, dest)

			Convey("It should list only complete files", func() {
				So(err, ShouldBeNil)
				So(files, ShouldHaveLength, 2)
				So(files, ShouldContain, "file1.sql.gz")
				So(files, ShouldContain, "file2.sql.gz")
				So(files, ShouldNotContain, "subdir")
			})

			Convey("When the directory does not exist", func() {
				files, err := storage.List(ctx, domain.Destination{Dir: "missing"})

				Convey("It should return an empty listing", func() {
					So(err, ShouldBeNil)
					So(files, ShouldBeEmpty)
				})
			})
		})

		Convey("Delete method", func() {
			So(storage.EnsureDir(ctx, dest), ShouldBeNil)
			target := filepath.Join(tempDir, "nested", "backups", "delete_me.sql.gz")
			os.WriteFile(target, []byte("test"), 0644)

			Convey("When deleting an existing file", func() {
				err := storage.Delete(ctx, dest, "delete_me.sql.gz")

				Convey("It should delete it", func() {
					So(err, ShouldBeNil)
					_, err := os.Stat(target)
					So(os.IsNotExist(err), ShouldBeTrue)
				})
			})

			Convey("When deleting a missing file", func() {
				err := storage.Delete(ctx, dest, "nonexistent.sql.gz")

				Convey("It should return error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to delete file")
				})
			})
		})

		Convey("Without a base path", func() {
			absolute := NewLocal("")
			absDest := domain.Destination{Dir: filepath.Join(tempDir, "abs")}
			So(absolute.EnsureDir(ctx, absDest), ShouldBeNil)

			_, err := os.Stat(filepath.Join(tempDir, "abs"))
			So(err, ShouldBeNil)
		})
	})
}
