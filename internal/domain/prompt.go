package domain

import (
	"fmt"
	"strings"
)

// knowledgeSample is the number of departments detailed in the knowledge base.
const knowledgeSample = 15

var riskLevelLabels = map[RiskLevel]string{
	RiskVeryLow: "Très Faible: 0.0 - 0.3",
	RiskLow:     "Faible: 0.3 - 0.5",
	RiskMedium:  "Moyen: 0.5 - 0.7",
	RiskHigh:    "Élevé: 0.7 - 1.0",
}

// KnowledgeBase renders the risk map as French context for the assistant:
// aggregate statistics, the highest-risk departments and the level legend.
func KnowledgeBase(snap RiskSnapshot) string {
	st := ComputeStats(snap.Departments)

	var b strings.Builder
	b.WriteString("Base de Connaissances des Données de Risque de Grippe en France (Source: Sentiweb):\n")
	fmt.Fprintf(&b, "- Total départements analysés: %d\n", st.TotalDepartments)
	fmt.Fprintf(&b, "- Score de risque moyen: %.2f\n", st.AverageRiskScore)
	fmt.Fprintf(&b, "- Départements à haut risque: %s\n", joinNames(st.HighRiskDepartments, 0))
	fmt.Fprintf(&b, "- Départements à faible risque: %s\n", joinNames(st.LowRiskDepartments, 5))
	if snap.Degraded {
		b.WriteString("- Attention: données de repli statiques, la source Sentiweb est indisponible\n")
	}

	b.WriteString("\nDétails des Départements (échantillon):\n")
	sample := SortByRisk(snap.Departments)
	if len(sample) > knowledgeSample {
		sample = sample[:knowledgeSample]
	}
	for _, d := range sample {
		fmt.Fprintf(&b, "%s (%s): Risque %.2f (%s)\n", d.Name, d.Code, d.RiskScore, d.RiskLevel)
	}

	b.WriteString("\nSource des Données:\n")
	b.WriteString("- Risques de grippe: API Sentiweb (données régionales appliquées aux départements)\n")
	b.WriteString("- Calcul: Intensité basée sur l'incidence pour 100k habitants sur les 5 dernières années\n")

	b.WriteString("\nNiveaux de Risque:\n")
	for _, l := range RiskLevels {
		fmt.Fprintf(&b, "- %s\n", riskLevelLabels[l])
	}
	return b.String()
}

func joinNames(names []string, limit int) string {
	if len(names) == 0 {
		return "Aucun"
	}
	if limit > 0 && len(names) > limit {
		return strings.Join(names[:limit], ", ") + "..."
	}
	return strings.Join(names, ", ")
}

// BuildPrompt embeds the knowledge base and the user's question in the
// assistant instructions.
func BuildPrompt(knowledge, question string) string {
	var b strings.Builder
	b.WriteString("Vous êtes un analyste de données de santé spécialisé dans l'évaluation du risque de grippe en France.\n")
	b.WriteString("Utilisez les données suivantes pour répondre aux questions sur les zones à risque de grippe, la couverture vaccinale et les prédictions.\n\n")
	b.WriteString(knowledge)
	fmt.Fprintf(&b, "\nQuestion de l'utilisateur: %s\n\n", strings.TrimSpace(question))
	b.WriteString("IMPORTANT: Répondez UNIQUEMENT en français. Soyez concis et utile basé sur les données ci-dessus. ")
	b.WriteString("Gardez les réponses sous 200 mots et utilisez un formatage clair.\n\n")
	b.WriteString("Formatez votre réponse comme suit:\n")
	b.WriteString("- Utilisez des puces pour les listes\n")
	b.WriteString("- Utilisez **gras** pour les noms de départements et métriques clés\n")
	b.WriteString("- Terminez par un résumé clair ou une recommandation\n")
	return b.String()
}
