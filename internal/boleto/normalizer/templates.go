package normalizer

import "github.com/detectabb/boleto-gateway/internal/boleto/domain"

// Fixed wording used when the service sends no explanation. Both templates
// depend on the fraud flag alone.

const (
	defaultConfidence = "Média"
	defaultMainReason = "Análise completa"
	methodSource      = "metodos"
	methodCategory    = "metodo"
)

func plainSummaryTemplate(fraudulent bool, mainReason string) domain.PlainSummary {
	if mainReason == "" {
		mainReason = defaultMainReason
	}
	if fraudulent {
		return domain.PlainSummary{
			Status:            "FRAUDULENTO",
			Confidence:        defaultConfidence,
			Summary:           "Este boleto foi identificado como falso",
			MainReason:        mainReason,
			RecommendedAction: "NÃO PAGUE este boleto",
			Emoji:             "🚨",
		}
	}
	return domain.PlainSummary{
		Status:            "VÁLIDO",
		Confidence:        defaultConfidence,
		Summary:           "Este boleto aparenta ser autêntico",
		MainReason:        mainReason,
		RecommendedAction: "Você pode pagar, mas sempre confira os dados",
		Emoji:             "✅",
	}
}

func recommendationTemplate(fraudulent bool) domain.Recommendation {
	if fraudulent {
		return domain.Recommendation{
			RiskLevel:  domain.RiskHigh,
			MainAction: domain.ActionDoNotPay,
			Message:    "Este boleto apresenta características suspeitas.",
			NextSteps: []string{
				"Não efetue o pagamento",
				"Entre em contato com o emissor",
				"Reporte a fraude",
			},
			Emoji: "⚠️",
			Color: "danger",
		}
	}
	return domain.Recommendation{
		RiskLevel:  domain.RiskLow,
		MainAction: domain.ActionCanPay,
		Message:    "Este boleto passou nas verificações de segurança.",
		NextSteps: []string{
			"Confira os dados",
			"Efetue o pagamento com segurança",
		},
		Emoji: "✅",
		Color: "success",
	}
}

// methodReason turns the first detection method into the only synthesized reason.
func methodReason(fraudulent bool, method string) domain.Reason {
	severity := domain.SeverityLow
	if fraudulent {
		severity = domain.SeverityHigh
	}
	return domain.Reason{
		Severity:     severity,
		Category:     methodCategory,
		Title:        method,
		PlainText:    method,
		AdvancedText: method,
		Source:       methodSource,
	}
}

func emptyAdvancedDetail() domain.AdvancedDetail {
	return domain.AdvancedDetail{
		TechnicalAnalysis: map[string]any{},
		Metrics:           map[string]any{},
		TechnicalDetails:  map[string]any{},
	}
}
