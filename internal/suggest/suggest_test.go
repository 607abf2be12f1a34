package suggest

import (
	"reflect"
	"testing"
)

func TestGenerate_StressTemplate(t *testing.T) {
	reply := "It sounds like you are dealing with a lot of anxiety right now."

	got := Generate(reply)
	want := []string{
		"Can you please generate a 2 mins short meditation session for immediate stress relief?",
		"Please generate a 5 mins long meditation script for anxiety management and calm!",
		"Please generate a long 10 mins meditation script to transform stress patterns at the root level!",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected stress template, got %v", got)
	}
}

func TestGenerate_Default(t *testing.T) {
	got := Generate("Hello there!")
	want := DefaultQuestions[:]
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected default template, got %v", got)
	}
	if Topic("Hello there!") != "default" {
		t.Errorf("Expected default topic")
	}
}

func TestGenerate_PriorityOrder(t *testing.T) {
	tests := []struct {
		reply string
		topic string
	}{
		// meditation outranks stress
		{"Breathing can ease stress", "mindfulness"},
		{"STRESS and worry", "stress"},
		{"You seem tired", "sleep"},
		// "rest" inside "restless" outranks the emotion keywords
		{"A restless, upset mind", "sleep"},
		{"I understand you are frustrated", "emotion"},
		{"Anger is a valid emotion", "emotion"},
		{"Notice the tension in your shoulders", "pain"},
		{"Conflict with a partner", "relationship"},
		{"Your career goals", "work"},
		{"Building confidence", "self-care"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			if got := Topic(tt.reply); got != tt.topic {
				t.Errorf("Topic(%q) = %q, want %q", tt.reply, got, tt.topic)
			}
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	inputs := []string{"", "sleep well", "work focus", "random text", "MINDFUL moments"}
	for _, in := range inputs {
		first := Generate(in)
		if len(first) != 3 {
			t.Fatalf("Expected 3 questions for %q, got %d", in, len(first))
		}
		for i := 0; i < 5; i++ {
			if again := Generate(in); !reflect.DeepEqual(first, again) {
				t.Errorf("Generate(%q) not deterministic: %v vs %v", in, first, again)
			}
		}
	}
}

func TestGenerate_ReturnsCopy(t *testing.T) {
	got := Generate("meditation")
	got[0] = "mutated"
	if Generate("meditation")[0] == "mutated" {
		t.Error("Expected Generate to return a fresh slice")
	}
}
