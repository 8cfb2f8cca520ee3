package pipeline

import (
	"errors"
	"slices"
	"testing"

	"speakerscribe/internal/services"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"defaults", Options{}, true},
		{"cuda alias", Options{Device: "CUDA"}, true},
		{"bad model", Options{ModelSize: "huge"}, false},
		{"bad device", Options{Device: "tpu"}, false},
		{"negative batch", Options{BatchSize: -1}, false},
		{"exact and bounds", Options{NumSpeakers: 2, MaxSpeakers: 3}, false},
		{"inverted bounds", Options{MinSpeakers: 4, MaxSpeakers: 2}, false},
		{"bad language", Options{Language: "klingonese"}, false},
		{"bad compute", Options{ComputeType: "bf16"}, false},
		{"basename path", Options{BaseName: "../x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			err := opts.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, services.ErrInput) {
				t.Fatalf("expected input error, got %v", err)
			}
		})
	}
}

func TestOptionsValidateNormalizes(t *testing.T) {
	opts := Options{ModelSize: " Small ", Device: "cuda", Language: "English"}
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if opts.ModelSize != "small" || opts.Device != "gpu" || opts.Language != "en" || opts.BatchSize != 8 {
		t.Fatalf("unexpected normalized options %+v", opts)
	}
	auto := Options{Language: "auto"}
	if err := auto.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if auto.ResolvedLanguage() != "" {
		t.Fatalf("auto must resolve to detection, got %q", auto.ResolvedLanguage())
	}
}

func TestOptionsArgs(t *testing.T) {
	opts := Options{
		ModelSize:    "base",
		Language:     "en",
		Device:       "cpu",
		BatchSize:    4,
		MinSpeakers:  2,
		Credential:   "hf_secret",
		Diarize:      true,
		Corrections:  false,
		OutputDir:    "/out",
		SpeakerNames: map[string]string{"SPEAKER_01": "Bo", "SPEAKER_00": "Al"},
	}
	want := []string{
		"--model-size", "base", "--language", "en", "--device", "cpu", "--batch-size", "4",
		"--min-speakers", "2", "--no-corrections", "--output-dir", "/out",
		"--speaker-name", "SPEAKER_00=Al", "--speaker-name", "SPEAKER_01=Bo",
	}
	if got := opts.Args(); !slices.Equal(got, want) {
		t.Fatalf("Args mismatch\n got %v\nwant %v", got, want)
	}
}

func TestOutputBase(t *testing.T) {
	if got := (Options{Input: "/a/b/talk.final.mp3"}).OutputBase(); got != "talk.final" {
		t.Fatalf("unexpected base %q", got)
	}
	if got := (Options{Input: "/a/talk.mp3", BaseName: "ep1"}).OutputBase(); got != "ep1" {
		t.Fatalf("unexpected base %q", got)
	}
}

func TestOverrideSpeakerCounts(t *testing.T) {
	two, four := 2, 4
	tests := []struct {
		name          string
		num, min, max *int
		want          [3]int
		ok            bool
	}{
		{"nothing set keeps config", nil, nil, nil, [3]int{3, 0, 0}, true},
		{"bounds replace configured exact", nil, &two, &four, [3]int{0, 2, 4}, true},
		{"single bound replaces configured exact", nil, nil, &four, [3]int{0, 0, 4}, true},
		{"exact replaces configured exact", &two, nil, nil, [3]int{2, 0, 0}, true},
		{"exact and bound together", &two, nil, &four, [3]int{2, 0, 4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{NumSpeakers: 3}
			opts.OverrideSpeakerCounts(tt.num, tt.min, tt.max)
			got := [3]int{opts.NumSpeakers, opts.MinSpeakers, opts.MaxSpeakers}
			if got != tt.want {
				t.Fatalf("counts = %v, want %v", got, tt.want)
			}
			err := opts.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, services.ErrInput) {
				t.Fatalf("expected input error, got %v", err)
			}
		})
	}

	bounded := Options{MinSpeakers: 2, MaxSpeakers: 5}
	bounded.OverrideSpeakerCounts(&four, nil, nil)
	if bounded.NumSpeakers != 4 || bounded.MinSpeakers != 0 || bounded.MaxSpeakers != 0 {
		t.Fatalf("exact count kept configured bounds: %+v", bounded)
	}
}
