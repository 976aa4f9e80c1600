// Package normalizer reconciles the two response shapes of the analysis
// service into one domain.NormalizedAnalysis.
package normalizer

import (
	"encoding/json"
	"strings"

	"github.com/detectabb/boleto-gateway/internal/boleto/domain"
)

// Normalize converts either response shape into a fully populated analysis.
// It does no I/O. It fails with a MalformedResponseError when the payload
// matches neither shape, carries no fraud analysis at all, or has a fraud
// flag that cannot be read. Every other field is optional.
func Normalize(raw *domain.RawResponse) (*domain.NormalizedAnalysis, error) {
	res, err := classify(raw)
	if err != nil {
		return nil, err
	}

	signals := res.signals()
	if signals == nil {
		return nil, domain.Malformed("response carries no fraud analysis")
	}

	fraudulent, err := fraudFlag(signals)
	if err != nil {
		return nil, err
	}

	status := domain.VerdictValid
	if fraudulent {
		status = domain.VerdictFraudulent
	}

	explanation := synthesize(fraudulent, signals)
	if _, ok := res.(*asyncResult); ok {
		explanation = fromServer(fraudulent, signals, explanation)
	}

	return &domain.NormalizedAnalysis{
		Status:          status,
		ExtractedFields: extractFields(res.extracted()),
		Explanation:     explanation,
	}, nil
}

// classify detects the shape from key presence. The sync keys win when a
// payload carries both groups.
func classify(raw *domain.RawResponse) (result, error) {
	if raw == nil {
		return nil, domain.Malformed("empty response")
	}

	switch {
	case raw.Has("success") || raw.Has("resultado_final"):
		res := &syncResult{}
		if err := decodeKey(raw, "resultado_final", &res.ResultadoFinal); err != nil {
			return nil, err
		}
		res.DadosExtraidos = objectKey(raw, "dados_extraidos")
		return res, nil

	case raw.Has("status") || raw.Has("fraudeAnalise"):
		res := &asyncResult{Status: raw.Status()}
		if err := decodeKey(raw, "fraudeAnalise", &res.FraudeAnalise); err != nil {
			return nil, err
		}
		res.DadosExtraidos = objectKey(raw, "dadosExtraidos")
		return res, nil
	}

	return nil, domain.Malformed("response matches neither the sync nor the async shape")
}

func decodeKey(raw *domain.RawResponse, key string, v any) error {
	data, ok := raw.Fields[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domain.Malformed("field %q: %v", key, err)
	}
	return nil
}

// objectKey returns the object under key, or nil when it is absent or not an object.
func objectKey(raw *domain.RawResponse, key string) map[string]json.RawMessage {
	data, ok := raw.Fields[key]
	if !ok {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields
}

// fraudFlag reads isFraudulento / is_fraudulento of a present analysis. A
// missing flag means not fraudulent; two spellings that disagree make the
// payload malformed.
func fraudFlag(fa *fraudAnalysis) (bool, error) {
	camel, snake := fa.IsFraudulento, fa.IsFraudulentoSnake
	switch {
	case camel != nil && snake != nil && *camel != *snake:
		return false, domain.Malformed("isFraudulento=%t contradicts is_fraudulento=%t", *camel, *snake)
	case camel != nil:
		return *camel, nil
	case snake != nil:
		return *snake, nil
	}
	return false, nil
}

func extractFields(fields map[string]json.RawMessage) domain.ExtractedFields {
	return domain.ExtractedFields{
		Barcode:    stringField(fields, "codigo_barras"),
		DigitLine:  stringField(fields, "linha_digitavel"),
		Amount:     amountField(fields, "valor"),
		DueDate:    stringField(fields, "vencimento"),
		Payee:      stringField(fields, "beneficiario_nome"),
		PayeeTaxID: stringField(fields, "beneficiario_cnpj"),
		BankCode:   stringField(fields, "codigo_banco"),
		BankName:   stringField(fields, "banco_nome"),
		Branch:     stringField(fields, "agencia"),
	}
}

// synthesize builds the explanation from the fraud flag and, for the main
// reason only, the first detection method.
func synthesize(fraudulent bool, fa *fraudAnalysis) domain.Explanation {
	method := firstMethod(fa)

	reasons := []domain.Reason{}
	if method != "" {
		reasons = append(reasons, methodReason(fraudulent, method))
	}

	return domain.Explanation{
		PlainSummary:   plainSummaryTemplate(fraudulent, method),
		AdvancedDetail: emptyAdvancedDetail(),
		Reasons:        reasons,
		Recommendation: recommendationTemplate(fraudulent),
	}
}

// firstMethod returns metodos[0] when metodos is a list whose first entry
// is a scalar.
func firstMethod(fa *fraudAnalysis) string {
	var methods []flexString
	if !lenient(fa.Metodos, &methods) || len(methods) == 0 {
		return ""
	}
	return strings.TrimSpace(methods[0].Value)
}

// fromServer maps the service's own explanation over the synthesized one.
// A section the service left out or wrote in an unexpected form keeps the
// template so the result is always complete.
func fromServer(fraudulent bool, fa *fraudAnalysis, out domain.Explanation) domain.Explanation {
	var exp serverExplanation
	if !lenient(fa.Explicacao, &exp) {
		return out
	}

	var simples serverSummary
	if lenient(exp.Simples, &simples) {
		out.PlainSummary = domain.PlainSummary{
			Status:            simples.Status.Value,
			Confidence:        simples.Confianca.Value,
			Summary:           simples.Resumo.Value,
			MainReason:        simples.PrincipalMotivo.Value,
			RecommendedAction: simples.AcaoRecomendada.Value,
			Emoji:             simples.Emoji.Value,
		}
	}

	var avancado serverAdvanced
	if lenient(exp.Avancado, &avancado) {
		out.AdvancedDetail = domain.AdvancedDetail{
			TechnicalAnalysis: orEmpty(avancado.AnaliseTecnica),
			Metrics:           orEmpty(avancado.Metricas),
			TechnicalDetails:  orEmpty(avancado.DetalhesTecnicos),
		}
	}

	var razoes []json.RawMessage
	if lenient(exp.Razoes, &razoes) {
		out.Reasons = make([]domain.Reason, 0, len(razoes))
		for _, item := range razoes {
			var r serverReason
			if !lenient(item, &r) {
				continue
			}
			out.Reasons = append(out.Reasons, domain.Reason{
				Severity:     mapSeverity(r.Gravidade.Value),
				Category:     r.Categoria.Value,
				CategoryName: r.CategoriaNome.Value,
				Title:        r.Titulo.Value,
				PlainText:    r.DescricaoSimples.Value,
				AdvancedText: r.DescricaoAvancada.Value,
				ImpactScore:  r.Impacto.Value,
				Source:       r.Fonte.Value,
				Icon:         r.Icone.Value,
				Color:        r.Cor.Value,
			})
		}
	}

	var rec serverRecommendation
	if lenient(exp.Recomendacao, &rec) {
		steps := []string{}
		var items []flexString
		if lenient(rec.ProximosPassos, &items) {
			for _, step := range items {
				if step.Set {
					steps = append(steps, step.Value)
				}
			}
		}
		out.Recommendation = domain.Recommendation{
			RiskLevel:  mapRiskLevel(rec.NivelRisco.Value, fraudulent),
			MainAction: mapAction(rec.AcaoPrincipal.Value, fraudulent),
			Message:    rec.Mensagem.Value,
			NextSteps:  steps,
			Emoji:      rec.Emoji.Value,
			Color:      rec.Cor.Value,
		}
	}

	return out
}

func orEmpty(v any) any {
	if v == nil {
		return map[string]any{}
	}
	return v
}

// mapSeverity accepts the Portuguese labels with or without accents and
// the English ones. Anything else is medium.
func mapSeverity(s string) domain.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critica", "crítica", "critical":
		return domain.SeverityCritical
	case "alta", "high":
		return domain.SeverityHigh
	case "baixa", "low":
		return domain.SeverityLow
	}
	return domain.SeverityMedium
}

func mapRiskLevel(s string, fraudulent bool) domain.RiskLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALTO", "ALTA", "HIGH", "CRITICO", "CRÍTICO":
		return domain.RiskHigh
	case "BAIXO", "BAIXA", "LOW":
		return domain.RiskLow
	}
	if fraudulent {
		return domain.RiskHigh
	}
	return domain.RiskLow
}

func mapAction(s string, fraudulent bool) domain.Action {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NÃO PAGAR", "NAO PAGAR", "DO_NOT_PAY":
		return domain.ActionDoNotPay
	case "PODE PAGAR", "CAN_PAY":
		return domain.ActionCanPay
	}
	if fraudulent {
		return domain.ActionDoNotPay
	}
	return domain.ActionCanPay
}
