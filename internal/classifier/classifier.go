package classifier

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/campusrelay/CampusRelay/internal/models"
)

// Default scoring thresholds. The tie-break distance and the confidence
// cutoffs are product-tuned values, kept configurable on the Classifier.
const (
	// DefaultAcceptThreshold is the confidence above which the top-scoring
	// domain is accepted outright.
	DefaultAcceptThreshold = 0.6
	// DefaultTentativeThreshold is the confidence above which the top domain
	// is accepted when no tie was detected.
	DefaultTentativeThreshold = 0.3
	// DefaultTieBreakDistance is the minimum score gap between the top two
	// domains below which the result is reported as ambiguous.
	DefaultTieBreakDistance = 2.0
	// maxTheoreticalScore normalizes raw keyword scores into [0, 1].
	maxTheoreticalScore = 10.0
)

// Keyword weights by priority tier.
const (
	weightHigh   = 3.0
	weightMedium = 2.0
	weightLow    = 1.0
)

// temporalPattern pairs a compiled phrase-shape pattern with its domain.
// Patterns are tested in order; the first match wins.
type temporalPattern struct {
	domain  models.Domain
	pattern *regexp.Regexp
}

// keywordTable holds the tiered keyword lists for one domain.
type keywordTable struct {
	high   []string
	medium []string
	low    []string
}

// Classifier assigns incoming message text to a routing domain using layered
// deterministic rules. It is stateless and safe for concurrent use.
type Classifier struct {
	// AcceptThreshold, TentativeThreshold and TieBreakDistance override the
	// default scoring cutoffs when set via NewWithThresholds.
	AcceptThreshold    float64
	TentativeThreshold float64
	TieBreakDistance   float64

	patterns []temporalPattern
	keywords map[models.Domain]keywordTable
}

// New creates a Classifier with the default pattern and keyword tables.
func New() *Classifier {
	return NewWithThresholds(DefaultAcceptThreshold, DefaultTentativeThreshold, DefaultTieBreakDistance)
}

// NewWithThresholds creates a Classifier with custom scoring thresholds.
func NewWithThresholds(accept, tentative, tieBreak float64) *Classifier {
	return &Classifier{
		AcceptThreshold:    accept,
		TentativeThreshold: tentative,
		TieBreakDistance:   tieBreak,
		patterns:           defaultTemporalPatterns(),
		keywords:           defaultKeywordTables(),
	}
}

// accentReplacer folds accented vowels so that the pattern and keyword
// tables, written unaccented, match both spellings. The ñ is intentionally
// preserved; patterns handle it explicitly.
var accentReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u",
)

// Normalize lowercases, trims and accent-folds text the same way the
// classifier does before matching. Exposed for callers that keyword-match
// against the same tables' conventions.
func Normalize(text string) string {
	return accentReplacer.Replace(strings.ToLower(strings.TrimSpace(text)))
}

// Classify maps free text to a destination domain with a confidence score
// and the method that produced the result. Given identical input and an
// unchanged table, the output is identical on every call.
func (c *Classifier) Classify(text string) models.Classification {
	lower := Normalize(text)

	// Pure greeting: no content beyond the greeting itself.
	if IsGreeting(text) && !HasContentBeyondGreeting(text) {
		slog.Debug("Classifier.Classify: pure greeting detected")
		return models.Classification{Domain: models.DomainGreeting, Confidence: 0.98, Method: models.MethodGreeting}
	}

	// Greeting-prefixed content: strip the greeting and classify the rest.
	if IsGreeting(text) {
		lower = accentReplacer.Replace(strings.ToLower(StripGreeting(text)))
		slog.Debug("Classifier.Classify: greeting stripped, classifying remainder", "remainder_length", len(lower))
	}

	// Ordered temporal/domain patterns take precedence over keyword scoring.
	for _, tp := range c.patterns {
		if tp.pattern.MatchString(lower) {
			slog.Debug("Classifier.Classify: pattern match", "domain", tp.domain)
			return models.Classification{Domain: tp.domain, Confidence: 0.95, Method: models.MethodPattern}
		}
	}

	// Weighted keyword scoring across the domain tables.
	scores := c.keywordScores(lower)
	if len(scores) == 0 {
		slog.Debug("Classifier.Classify: no keyword signal, result ambiguous")
		return models.Classification{Domain: models.DomainNone, Confidence: 0, Method: models.MethodAmbiguous}
	}

	top, second := topTwo(scores)
	confidence := top.score / maxTheoreticalScore
	if confidence > 1.0 {
		confidence = 1.0
	}

	if confidence > c.AcceptThreshold {
		slog.Debug("Classifier.Classify: keyword match accepted", "domain", top.domain, "confidence", confidence)
		return models.Classification{Domain: top.domain, Confidence: confidence, Method: models.MethodKeyword}
	}

	if second.domain != "" && top.score-second.score < c.TieBreakDistance {
		slog.Debug("Classifier.Classify: ambiguous scores", "top", top.domain, "second", second.domain, "diff", top.score-second.score)
		return models.Classification{Domain: models.DomainNone, Confidence: confidence, Method: models.MethodAmbiguous}
	}

	if confidence > c.TentativeThreshold {
		slog.Debug("Classifier.Classify: tentative keyword match", "domain", top.domain, "confidence", confidence)
		return models.Classification{Domain: top.domain, Confidence: confidence, Method: models.MethodKeyword}
	}

	slog.Debug("Classifier.Classify: signal too weak, result ambiguous", "top", top.domain, "confidence", confidence)
	return models.Classification{Domain: models.DomainNone, Confidence: 0, Method: models.MethodAmbiguous}
}

// keywordScores sums tier weights for every keyword found as a substring of
// the lower-cased text, per domain. Domains with no match are omitted.
func (c *Classifier) keywordScores(lower string) map[models.Domain]float64 {
	scores := make(map[models.Domain]float64)
	for domain, table := range c.keywords {
		var score float64
		for _, kw := range table.high {
			if strings.Contains(lower, kw) {
				score += weightHigh
			}
		}
		for _, kw := range table.medium {
			if strings.Contains(lower, kw) {
				score += weightMedium
			}
		}
		for _, kw := range table.low {
			if strings.Contains(lower, kw) {
				score += weightLow
			}
		}
		if score > 0 {
			scores[domain] = score
		}
	}
	return scores
}

type domainScore struct {
	domain models.Domain
	score  float64
}

// topTwo returns the two highest-scoring domains. Ties on score are broken by
// domain name so the result does not depend on map iteration order.
func topTwo(scores map[models.Domain]float64) (domainScore, domainScore) {
	ranked := make([]domainScore, 0, len(scores))
	for d, s := range scores {
		ranked = append(ranked, domainScore{domain: d, score: s})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].domain < ranked[j].domain
	})
	if len(ranked) == 1 {
		return ranked[0], domainScore{}
	}
	return ranked[0], ranked[1]
}

// defaultTemporalPatterns returns the ordered pattern table. Calendar
// patterns come first: "cuándo" plus an exam word routes to the calendar even
// when academic keywords are also present.
func defaultTemporalPatterns() []temporalPattern {
	calendar := []string{
		`cuando (es|sera|tengo|hay).*(parcial|final|examen)`,
		`(fecha|dia).*(parcial|final|examen|evaluacion)`,
		`(calendario|cronograma).*(examen|evaluacion)`,
		`(proximo|siguiente|esta semana|mes que viene).*(parcial|final)`,
		`(hoy|ma[ñn]ana|pasado ma[ñn]ana).*(parcial|final|examen)`,
		`(esta|la) semana.*(parcial|final|examen)`,
		`(este|el) mes.*(parcial|final|examen)`,
		`en \d+ d[ií]as?.*(parcial|final|examen)`,
		`(cual|cuál) es (mi|el) (proximo|próximo|siguiente).*(parcial|final|examen)`,
	}
	academic := []string{
		`cuando (tengo|es|hay).*(clase|cursada)`,
		`(horario|hora).*(clase|materia|cursada)`,
		`(donde|que aula|salon).*(clase|cursada)`,
		`(hoy|ma[ñn]ana|pasado ma[ñn]ana).*(clase|cursada)`,
		`(esta|la) semana.*(clase|cursada)`,
	}

	var patterns []temporalPattern
	for _, p := range calendar {
		patterns = append(patterns, temporalPattern{domain: models.DomainCalendar, pattern: regexp.MustCompile(p)})
	}
	for _, p := range academic {
		patterns = append(patterns, temporalPattern{domain: models.DomainAcademic, pattern: regexp.MustCompile(p)})
	}
	return patterns
}

// defaultKeywordTables returns the tiered keyword tables per domain.
func defaultKeywordTables() map[models.Domain]keywordTable {
	return map[models.Domain]keywordTable{
		models.DomainCalendar: {
			high: []string{
				"parcial", "final", "examen", "recuperatorio", "parciales", "finales", "examenes",
				"fecha de examen", "cuando es el", "calendario de examenes",
				"proximo parcial", "proximo final", "siguiente examen",
				"tengo un parcial", "tengo un final", "tengo examen",
			},
			medium: []string{
				"calendario", "evento", "feriado", "inscripcion",
				"inicio de clases", "fin de cuatrimestre",
				"esta semana", "semana que viene", "este mes", "mes que viene",
			},
			low: []string{
				"cuando", "fecha", "dia", "hoy", "mañana", "manana",
				"pasado mañana", "pasado manana", "proximo", "siguiente",
			},
		},
		models.DomainAcademic: {
			high: []string{
				"horario", "clase", "aula", "salon", "profesor",
				"docente", "comision", "cursada", "inscripto",
				"creditos vu", "credito", "materia", "materias",
			},
			medium: []string{
				"curso", "catedra", "dictado", "turno",
				"presencial", "virtual", "zoom", "quiero saber",
				"ver mi", "mi horario",
			},
			low: []string{
				"tengo", "estoy", "voy", "ir", "asistir", "saber",
			},
		},
		models.DomainFinancial: {
			high: []string{
				"pago", "deuda", "debo", "cuota", "vencimiento",
				"factura", "arancel", "cobro", "cuenta", "cuanto debo",
				"tengo deudas", "tengo deuda",
			},
			medium: []string{
				"precio", "costo", "monto", "saldo", "adeudo",
			},
			low: []string{
				"dinero", "plata", "pagar", "dolar", "peso", "cuanto",
			},
		},
		models.DomainPolicies: {
			high: []string{
				"reglamento", "normativa", "politica", "syllabus",
				"programa", "bibliografia", "contenido", "temas",
			},
			medium: []string{
				"requisito", "condicion", "regla", "criterio",
				"evaluacion", "aprobacion", "regularidad",
			},
			low: []string{
				"como se", "que pide", "necesito", "debo cumplir",
			},
		},
	}
}
