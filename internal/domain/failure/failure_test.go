package failure_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	. "github.com/smartystreets/goconvey/convey"
)

func TestKindError(t *testing.T) {
	Convey("Given a wrapped cause", t, func() {
		cause := errors.New("connection reset")
		err := failure.WrapKind("deel.create_candidate", failure.ErrTransient, cause)

		Convey("Then both the kind and the cause are reachable", func() {
			So(errors.Is(err, failure.ErrTransient), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(failure.IsTransient(err), ShouldBeTrue)
			So(failure.KindOf(err), ShouldEqual, failure.ErrTransient)
			So(failure.Label(err), ShouldEqual, "transient")
		})

		Convey("Then the message names the operation", func() {
			So(err.Error(), ShouldEqual, "deel.create_candidate: transient service error: connection reset")
		})

		Convey("When wrapped again with fmt.Errorf", func() {
			outer := fmt.Errorf("confirm: %w", err)

			Convey("Then the kind survives", func() {
				So(failure.KindOf(outer), ShouldEqual, failure.ErrTransient)
				var ke *failure.KindError
				So(errors.As(outer, &ke), ShouldBeTrue)
				So(ke.Op, ShouldEqual, "deel.create_candidate")
			})
		})
	})

	Convey("Given a nil cause", t, func() {
		So(failure.WrapKind("op", failure.ErrParse, nil), ShouldBeNil)
		So(failure.KindOf(nil), ShouldBeNil)
		So(failure.Label(nil), ShouldEqual, "none")
	})

	Convey("Given an unclassified error", t, func() {
		err := errors.New("boom")
		So(failure.KindOf(err), ShouldBeNil)
		So(failure.Label(err), ShouldEqual, "unknown")
		So(failure.IsTransient(err), ShouldBeFalse)
	})

	Convey("Given a kind without cause", t, func() {
		err := failure.NewKind("chat.resolve_handle", failure.ErrNotFound)
		So(errors.Is(err, failure.ErrNotFound), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "chat.resolve_handle: not found")
	})
}
