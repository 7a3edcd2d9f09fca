package model_test

import (
	"testing"

	"github.com/Dan-Hightower/hirebot/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestJobValid(t *testing.T) {
	Convey("Given jobs of each kind", t, func() {
		So((&model.Job{Kind: model.KindHireCommand, Command: &model.Command{Text: "x"}}).Valid(), ShouldBeTrue)
		So((&model.Job{Kind: model.KindHireCommand}).Valid(), ShouldBeFalse)
		So((&model.Job{Kind: model.KindConfirm, Action: &model.Action{Value: "tok"}}).Valid(), ShouldBeTrue)
		So((&model.Job{Kind: model.KindSubmit, Action: &model.Action{}}).Valid(), ShouldBeFalse)
		So((&model.Job{Kind: "other", Action: &model.Action{Value: "tok"}}).Valid(), ShouldBeFalse)
	})
}
