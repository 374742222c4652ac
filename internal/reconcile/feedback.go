package reconcile

import (
	"math/rand/v2"

	"github.com/fluentkids/phonotrail/internal/analysis"
)

// Feedback is always encouraging and never corrective: a miss message points
// at the technique, not the child.
var hitMessages = map[analysis.Exercise][]string{
	analysis.ExerciseTurtle: {
		"Great! You spoke slowly and fluently. Keep it up!",
		"Awesome slow speech! The turtle loved that pace!",
		"Perfect control! You're mastering slow speech!",
		"Wonderful! Your slow, steady speech was excellent!",
	},
	analysis.ExerciseSnake: {
		"Smooth prolongation! The snake loved that!",
		"Excellent sustained sound! Keep that smoothness going!",
		"Beautiful! You held that sound perfectly!",
		"Amazing! That was a really smooth prolongation!",
	},
	analysis.ExerciseBalloon: {
		"Perfect easy onset! The balloon floated high!",
		"Great breath and gentle start! You've got this!",
		"Wonderful! That was a soft, easy beginning!",
		"Excellent! Your easy onset was spot on!",
	},
	analysis.ExerciseOneTap: {
		"Fluent one-tap! You nailed it!",
		"Perfect! That was smooth and clear!",
		"Awesome! No bumps in that word!",
		"Great job! That word flowed beautifully!",
	},
}

var missMessages = map[analysis.Exercise]string{
	analysis.ExerciseTurtle:  "Try to keep it smooth and steady, no rush, no bumps!",
	analysis.ExerciseSnake:   "Try to make it one smooth sound, like a long slide!",
	analysis.ExerciseBalloon: "Remember: gentle breath, then soft and easy!",
	analysis.ExerciseOneTap:  "Almost there! Let's try to make it even smoother!",
}

// fallbackFeedback produces an encouragement string for results where the
// analysis service returned none (or the attempt settled offline).
func fallbackFeedback(exercise analysis.Exercise, stars int) string {
	if stars == analysis.StarsPass {
		if msgs := hitMessages[exercise]; len(msgs) > 0 {
			return msgs[rand.IntN(len(msgs))]
		}
		return "Great job!"
	}
	if msg, ok := missMessages[exercise]; ok {
		return msg
	}
	return "Give it another try, you're doing great!"
}
