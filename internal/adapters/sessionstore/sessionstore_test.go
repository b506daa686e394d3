package sessionstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pmuci/pointage/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMemory(t *testing.T) {
	Convey("Given a memory store on a fake clock", t, func() {
		ctx := context.Background()
		now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		m := NewMemory(func() time.Time { return now })
		s := model.Session{ID: "s1", ChefID: "c1", AgencyID: "centrale", IssuedAt: now, Duration: 30 * time.Minute}

		So(m.Save(ctx, s, 30*time.Minute), ShouldBeNil)

		Convey("A live session loads", func() {
			now = now.Add(10 * time.Minute)
			got, left, err := m.Load(ctx, "s1")
			So(err, ShouldBeNil)
			So(got.AgencyID, ShouldEqual, "centrale")
			So(left, ShouldEqual, 20*time.Minute)
		})

		Convey("It expires with its TTL", func() {
			now = now.Add(30 * time.Minute)
			_, _, err := m.Load(ctx, "s1")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			So(errors.Is(m.Refresh(ctx, "s1", time.Minute), model.ErrNotFound), ShouldBeTrue)
		})

		Convey("Refresh pushes the expiry", func() {
			now = now.Add(20 * time.Minute)
			So(m.Refresh(ctx, "s1", 30*time.Minute), ShouldBeNil)
			now = now.Add(20 * time.Minute)
			_, _, err := m.Load(ctx, "s1")
			So(err, ShouldBeNil)
		})

		Convey("Delete removes it", func() {
			So(m.Delete(ctx, "s1"), ShouldBeNil)
			_, _, err := m.Load(ctx, "s1")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})
	})
}
