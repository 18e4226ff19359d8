package answer

import (
	"context"
	"strings"

	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/search"
)

// Fallback metadata.
const (
	FallbackModel      = "fallback"
	FallbackConfidence = 60
)

// Topic is a canned answer and the keywords that select it.
type Topic struct {
	Name     string
	Keywords []string
	Answer   string
}

// DefaultTopics are the built-in canned answers, in match priority order.
var DefaultTopics = []Topic{
	{
		Name:     "pots",
		Keywords: []string{"pots", "postural", "tachycardia"},
		Answer: `POTS (Postural Orthostatic Tachycardia Syndrome) is a form of dysautonomia characterized by an abnormal increase in heart rate when standing up. Common symptoms include:

• Rapid heart rate (increase of 30+ bpm when standing)
• Dizziness or lightheadedness
• Fatigue
• Brain fog
• Nausea
• Chest pain

Management strategies often include:
• Increasing fluid and salt intake
• Wearing compression garments
• Gradual exercise programs
• Medications as prescribed by your doctor

Please consult with a healthcare provider familiar with POTS for proper diagnosis and treatment planning.`,
	},
	{
		Name:     "long covid",
		Keywords: []string{"long covid", "post covid", "covid"},
		Answer: `Long Covid refers to symptoms that persist for weeks or months after the acute phase of COVID-19. It can affect multiple body systems and may include:

• Fatigue and post-exertional malaise
• Brain fog and cognitive issues
• Shortness of breath
• Heart palpitations
• Sleep disturbances
• Autonomic dysfunction

Many Long Covid patients develop POTS or other forms of dysautonomia. Management is typically symptom-focused and may include:
• Pacing activities to avoid overexertion
• Gradual rehabilitation programs
• Symptom-specific treatments
• Support from specialized Long Covid clinics

Work with healthcare providers experienced in post-viral conditions for the best care approach.`,
	},
	{
		Name:     "dysautonomia",
		Keywords: []string{"dysautonomia", "autonomic"},
		Answer: `Dysautonomia refers to disorders of the autonomic nervous system, which controls involuntary body functions like heart rate, blood pressure, and digestion. Types include:

• POTS (Postural Orthostatic Tachycardia Syndrome)
• Neurocardiogenic syncope
• Multiple system atrophy
• Pure autonomic failure

Common symptoms across types:
• Heart rate and blood pressure irregularities
• Temperature regulation issues
• Digestive problems
• Sleep disturbances
• Exercise intolerance

Treatment is typically individualized and may include lifestyle modifications, medications, and physical therapy. Specialist care from a neurologist or cardiologist familiar with autonomic disorders is recommended.`,
	},
}

// GenericAnswer is returned when no topic matches.
const GenericAnswer = `I'm currently experiencing technical difficulties with my AI processing system. However, I'm designed to help with questions about:

• POTS and dysautonomia
• Long Covid and post-viral syndromes
• Symptom management strategies
• Treatment options and lifestyle modifications

For immediate help, consider:
• Consulting with your healthcare provider
• Visiting reputable medical websites like Mayo Clinic or Cleveland Clinic
• Contacting patient advocacy organizations like Dysautonomia International

Please try your question again in a few moments when my systems are fully operational.`

// Fallback answers from canned topics. Keywords are tried first in topic
// order; otherwise the question is matched against the topic texts (and any
// extra knowledge-base passages) by similarity. Passages from the knowledge
// base whose topic has no canned answer are returned verbatim.
type Fallback struct {
	Topics    []Topic
	Index     *search.Index
	Threshold float64
}

// NewFallback indexes the topic answers plus extra knowledge-base passages.
func NewFallback(topics []Topic, extra []search.Doc, threshold float64) *Fallback {
	docs := make([]search.Doc, 0, len(topics)+len(extra))
	for _, t := range topics {
		for _, para := range strings.Split(t.Answer, "\n\n") {
			docs = append(docs, search.Doc{Topic: t.Name, Text: para})
		}
	}
	docs = append(docs, extra...)
	return &Fallback{Topics: topics, Index: search.NewIndex(docs, nil), Threshold: threshold}
}

// Answer implements Provider. It never fails.
func (f *Fallback) Answer(_ context.Context, req Request) (*Result, error) {
	return &Result{
		Answer:          f.match(req.Question),
		Sources:         []domain.Source{},
		ConfidenceScore: FallbackConfidence,
		ModelUsed:       FallbackModel,
	}, nil
}

func (f *Fallback) match(question string) string {
	low := strings.ToLower(question)
	for _, t := range f.Topics {
		for _, kw := range t.Keywords {
			if strings.Contains(low, kw) {
				return t.Answer
			}
		}
	}

	if f.Index == nil {
		return GenericAnswer
	}
	res := f.Index.TopK(question, 1)
	if len(res) == 0 || res[0].Score < f.Threshold {
		return GenericAnswer
	}
	for _, t := range f.Topics {
		if t.Name == res[0].Topic {
			return t.Answer
		}
	}
	return res[0].Snippet
}
