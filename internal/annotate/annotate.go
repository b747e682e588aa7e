package annotate

import (
	"regexp"
	"strings"
)

// EntityType classifies an extracted medical entity.
type EntityType string

const (
	EntityMedication EntityType = "medication"
	EntityVital      EntityType = "vital"
	EntitySymptom    EntityType = "symptom"
)

// Entity is a single medical mention extracted from transcript text.
type Entity struct {
	Type  EntityType `json:"type"`
	Text  string     `json:"text"`
	Value string     `json:"value,omitempty"`
	Unit  string     `json:"unit,omitempty"`
}

// Result is the output of one annotation pass.
type Result struct {
	Speaker  string   `json:"speaker"`
	Entities []Entity `json:"entities"`
}

// Speaker labels. Channel ids come from the ASR provider's diarization.
const (
	SpeakerDoctor  = "Doctor"
	SpeakerPatient = "Patient"
	SpeakerOther   = "Other"
)

// SpeakerForChannel maps a raw diarization channel id onto a speaker label.
func SpeakerForChannel(channel int) string {
	switch channel {
	case 0:
		return SpeakerDoctor
	case 1:
		return SpeakerPatient
	default:
		return SpeakerOther
	}
}

// Phrases characteristic of clinician speech: prescribing and care-plan
// language. If these match and the patient patterns do not, the content
// classification wins over the diarization hint.
var clinicianPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi (?:recommend|suggest|advise)\b`),
	regexp.MustCompile(`(?i)\bi(?:'m going to| will|'ll)? prescribe\b`),
	regexp.MustCompile(`(?i)\btake this\b`),
	regexp.MustCompile(`(?i)\b(?:once|twice|three times) (?:a day|daily)\b`),
	regexp.MustCompile(`(?i)\byour (?:blood pressure|heart rate|lab results|test results|dosage)\b`),
	regexp.MustCompile(`(?i)\bfollow(?:-| )up in\b`),
	regexp.MustCompile(`(?i)\blet's (?:schedule|order|check|run)\b`),
	regexp.MustCompile(`(?i)\bthe (?:labs?|results|scan|x-ray) (?:show|came back)\b`),
}

// Phrases characteristic of patient speech: first-person symptom language.
var patientPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi(?:'m| am) feeling\b`),
	regexp.MustCompile(`(?i)\bi feel (?:like )?\b`),
	regexp.MustCompile(`(?i)\bi(?:'ve| have) been (?:having|feeling|experiencing)\b`),
	regexp.MustCompile(`(?i)\bmy \w+ (?:hurts?|aches?)\b`),
	regexp.MustCompile(`(?i)\bit hurts when\b`),
	regexp.MustCompile(`(?i)\bi (?:can't|cannot|couldn't) (?:sleep|breathe|eat)\b`),
	regexp.MustCompile(`(?i)\bi(?:'ve| have) had\b`),
	regexp.MustCompile(`(?i)\bthe pain (?:is|gets|started)\b`),
}

// Drug names are recognized by common pharmaceutical suffixes, with an
// optional dose either before ("500 mg of metformin") or after
// ("metformin 500 mg") the name.
var medicationPattern = regexp.MustCompile(
	`(?i)\b(?:(\d+(?:\.\d+)?)\s*(mg|mcg|g|ml|units?)\s+of\s+)?` +
		`([a-z][a-z-]*(?:cillin|mycin|azole|pril|sartan|statin|formin|olol|dipine|zide|oxetine|azepam|profen|amide|caine|tide|mab|vir))\b` +
		`(?:\s+(\d+(?:\.\d+)?)\s*(mg|mcg|g|ml|units?)\b)?`)

// Vital signs: keyword plus a numeric reading plus an optional unit.
var vitalPattern = regexp.MustCompile(
	`(?i)\b(heart rate|pulse|blood pressure|bp|temperature|temp|oxygen saturation|o2 sat|respiratory rate|blood sugar|glucose|weight)\b` +
		`(?:\s+(?:is|was|of|at|reads?))?\s*` +
		`(\d{1,3}(?:/\d{1,3})?(?:\.\d+)?)` +
		`\s*(bpm|mmhg|°?[cf]|%|percent|kg|lbs?|mg/dl)?\b?`)

var symptomVocabulary = []string{
	"headache", "migraine", "dizziness", "dizzy", "nausea", "nauseous",
	"fatigue", "fever", "chills", "cough", "chest pain", "shortness of breath",
	"sore throat", "vomiting", "diarrhea", "rash", "swelling", "palpitations",
	"insomnia", "numbness", "back pain", "abdominal pain", "wheezing",
}

var symptomPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(symptomVocabulary, "|") + `)\b`)

// Annotate labels the speaker for a span of transcript text and extracts
// medical entities from it. channel is the raw diarization channel id, or a
// negative value when no hint is available. The function is pure: identical
// inputs always produce identical output, and unclassifiable text yields the
// diarization-derived label with an empty entity list.
func Annotate(text string, channel int) Result {
	return Result{
		Speaker:  classifySpeaker(text, channel),
		Entities: ExtractEntities(text),
	}
}

func classifySpeaker(text string, channel int) string {
	clinician := anyMatch(clinicianPatterns, text)
	patient := anyMatch(patientPatterns, text)

	switch {
	case clinician && !patient:
		return SpeakerDoctor
	case patient && !clinician:
		return SpeakerPatient
	default:
		return SpeakerForChannel(channel)
	}
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// ExtractEntities runs the medication, vital and symptom passes over text.
// The passes are independent and may overlap in the source text.
func ExtractEntities(text string) []Entity {
	var entities []Entity

	for _, m := range medicationPattern.FindAllStringSubmatch(text, -1) {
		entity := Entity{Type: EntityMedication, Text: strings.ToLower(m[3])}
		switch {
		case m[1] != "":
			entity.Value = m[1]
			entity.Unit = strings.ToLower(m[2])
		case m[4] != "":
			entity.Value = m[4]
			entity.Unit = strings.ToLower(m[5])
		}
		entities = append(entities, entity)
	}

	for _, m := range vitalPattern.FindAllStringSubmatch(text, -1) {
		entities = append(entities, Entity{
			Type:  EntityVital,
			Text:  strings.ToLower(m[1]),
			Value: m[2],
			Unit:  strings.ToLower(m[3]),
		})
	}

	for _, m := range symptomPattern.FindAllStringSubmatch(text, -1) {
		entities = append(entities, Entity{Type: EntitySymptom, Text: strings.ToLower(m[1])})
	}

	return entities
}
