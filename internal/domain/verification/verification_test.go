package verification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pmuci/pointage/internal/domain/verification"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSimulatedProvider(t *testing.T) {
	Convey("Given a simulated provider without delay", t, func() {
		ctx := context.Background()
		fast := verification.WithLatencyRange(0, time.Millisecond)
		req := verification.Request{Matricule: "M001", Capture: []byte("print")}

		Convey("A success rate of one always matches", func() {
			p := verification.NewSimulatedProvider(fast, verification.WithSuccessRate(1))
			for i := 0; i < 20; i++ {
				ok, err := p.Verify(ctx, req)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			}
		})

		Convey("A success rate of zero never matches", func() {
			p := verification.NewSimulatedProvider(fast, verification.WithSuccessRate(0))
			ok, err := p.Verify(ctx, req)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("An empty capture never matches", func() {
			p := verification.NewSimulatedProvider(fast, verification.WithSuccessRate(1))
			ok, _ := p.Verify(ctx, verification.Request{Matricule: "M001"})
			So(ok, ShouldBeFalse)
		})

		Convey("The same seed replays the same outcomes", func() {
			a := verification.NewSimulatedProvider(fast, verification.WithSeed(7), verification.WithSuccessRate(0.5))
			b := verification.NewSimulatedProvider(fast, verification.WithSeed(7), verification.WithSuccessRate(0.5))
			for i := 0; i < 10; i++ {
				x, _ := a.Verify(ctx, req)
				y, _ := b.Verify(ctx, req)
				So(x, ShouldEqual, y)
			}
		})
	})

	Convey("A cancelled context stops the simulated wait", t, func() {
		p := verification.NewSimulatedProvider(verification.WithLatencyRange(time.Second, 2*time.Second))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ok, err := p.Verify(ctx, verification.Request{Capture: []byte("x")})
		So(ok, ShouldBeFalse)
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
	})

	Convey("ProviderFunc adapts plain functions", t, func() {
		var p verification.Provider = verification.ProviderFunc(func(_ context.Context, r verification.Request) (bool, error) {
			return r.Matricule == "M001", nil
		})
		ok, err := p.Verify(context.Background(), verification.Request{Matricule: "M001"})
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
	})
}
