package normalizer

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detectabb/boleto-gateway/internal/boleto/domain"
)

func rawResponse(t *testing.T, body string) *domain.RawResponse {
	t.Helper()
	raw, err := domain.NewRawResponse([]byte(body))
	require.NoError(t, err)
	return raw
}

func requireComplete(t *testing.T, got *domain.NormalizedAnalysis) {
	t.Helper()
	require.NotNil(t, got)
	assert.Contains(t, []domain.Verdict{domain.VerdictValid, domain.VerdictFraudulent}, got.Status)

	exp := got.Explanation
	assert.NotEmpty(t, exp.PlainSummary.Status)
	assert.NotEmpty(t, exp.PlainSummary.Summary)
	assert.NotEmpty(t, exp.PlainSummary.MainReason)
	assert.NotEmpty(t, exp.PlainSummary.RecommendedAction)
	assert.NotNil(t, exp.AdvancedDetail.TechnicalAnalysis)
	assert.NotNil(t, exp.AdvancedDetail.Metrics)
	assert.NotNil(t, exp.AdvancedDetail.TechnicalDetails)
	assert.NotNil(t, exp.Reasons)
	assert.Contains(t, []domain.RiskLevel{domain.RiskHigh, domain.RiskLow}, exp.Recommendation.RiskLevel)
	assert.Contains(t, []domain.Action{domain.ActionDoNotPay, domain.ActionCanPay}, exp.Recommendation.MainAction)
	assert.NotEmpty(t, exp.Recommendation.Message)
	assert.NotEmpty(t, exp.Recommendation.NextSteps)
}

func TestNormalize_AsyncFraudulentWithoutExplanation(t *testing.T) {
	raw := rawResponse(t, `{"status":"completed","fraudeAnalise":{"isFraudulento":true}}`)

	got, err := Normalize(raw)
	require.NoError(t, err)
	requireComplete(t, got)

	assert.Equal(t, domain.VerdictFraudulent, got.Status)
	assert.True(t, got.Fraudulent())
	assert.Equal(t, domain.ActionDoNotPay, got.Explanation.Recommendation.MainAction)
	assert.Equal(t, domain.RiskHigh, got.Explanation.Recommendation.RiskLevel)
	assert.Len(t, got.Explanation.Recommendation.NextSteps, 3)
	assert.Empty(t, got.Explanation.Reasons)
	assert.Equal(t, "FRAUDULENTO", got.Explanation.PlainSummary.Status)
	assert.Equal(t, "Análise completa", got.Explanation.PlainSummary.MainReason)
}

func TestNormalize_SyncValidWithAmount(t *testing.T) {
	raw := rawResponse(t, `{"success":true,"resultado_final":{"isFraudulento":false},"dados_extraidos":{"valor":150.0}}`)

	got, err := Normalize(raw)
	require.NoError(t, err)
	requireComplete(t, got)

	assert.Equal(t, domain.VerdictValid, got.Status)
	require.NotNil(t, got.ExtractedFields.Amount)
	assert.True(t, decimal.NewFromFloat(150.0).Equal(*got.ExtractedFields.Amount))
	assert.Nil(t, got.ExtractedFields.Barcode)
	assert.Nil(t, got.ExtractedFields.Payee)
	assert.Equal(t, domain.ActionCanPay, got.Explanation.Recommendation.MainAction)
	assert.Len(t, got.Explanation.Recommendation.NextSteps, 2)
}

func TestNormalize_SyncSuccessFalseIsAVerdict(t *testing.T) {
	raw := rawResponse(t, `{"success":false,"resultado_final":{"is_fraudulento":true,"metodos":["codigo_barras_invalido"]}}`)

	got, err := Normalize(raw)
	require.NoError(t, err)
	requireComplete(t, got)
	assert.Equal(t, domain.VerdictFraudulent, got.Status)
}

func TestNormalize_NeitherShape(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"unrelated keys", `{"foo":1,"dados_extraidos":{"valor":10}}`},
		{"only extracted fields of async", `{"dadosExtraidos":{"valor":10}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(rawResponse(t, tt.body))
			assert.Nil(t, got)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMalformedResponse))

			var malformed *domain.MalformedResponseError
			assert.True(t, errors.As(err, &malformed))
			assert.NotEmpty(t, malformed.Reason)
		})
	}
}

func TestNormalize_NilResponse(t *testing.T) {
	_, err := Normalize(nil)
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestNormalize_FraudFlagSpellings(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    domain.Verdict
		wantErr bool
	}{
		{"camel case true", `{"status":"completed","fraudeAnalise":{"isFraudulento":true}}`, domain.VerdictFraudulent, false},
		{"snake case true", `{"status":"completed","fraudeAnalise":{"is_fraudulento":true}}`, domain.VerdictFraudulent, false},
		{"sync snake case", `{"success":true,"resultado_final":{"is_fraudulento":true}}`, domain.VerdictFraudulent, false},
		{"both agree", `{"success":true,"resultado_final":{"isFraudulento":false,"is_fraudulento":false}}`, domain.VerdictValid, false},
		{"null counts as missing", `{"success":true,"resultado_final":{"isFraudulento":null,"is_fraudulento":true}}`, domain.VerdictFraudulent, false},
		{"missing flag is valid", `{"status":"completed","fraudeAnalise":{"score":0.1}}`, domain.VerdictValid, false},
		{"conflicting flags", `{"success":true,"resultado_final":{"isFraudulento":true,"is_fraudulento":false}}`, "", true},
		{"conflicting flags async", `{"status":"completed","fraudeAnalise":{"isFraudulento":false,"is_fraudulento":true}}`, "", true},
		{"flag of the wrong type", `{"status":"completed","fraudeAnalise":{"isFraudulento":"yes"}}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(rawResponse(t, tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrMalformedResponse)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestNormalize_NoFraudAnalysisIsNeverAVerdict(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"sync error body", `{"success":false,"detail":"Nao foi possivel ler o boleto"}`},
		{"sync without resultado_final", `{"success":true,"dados_extraidos":{}}`},
		{"sync with null resultado_final", `{"success":true,"resultado_final":null}`},
		{"async completed without fraudeAnalise", `{"status":"completed"}`},
		{"async with null fraudeAnalise", `{"status":"completed","fraudeAnalise":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(rawResponse(t, tt.body))
			assert.Nil(t, got)
			assert.ErrorIs(t, err, domain.ErrMalformedResponse)
		})
	}
}

func TestNormalize_UnreadableOptionalFieldsAreIgnored(t *testing.T) {
	tests := []struct {
		name string
		body string
		want domain.Verdict
	}{
		{"structured score", `{"status":"completed","fraudeAnalise":{"isFraudulento":true,"score":{"ml":0.9}}}`, domain.VerdictFraudulent},
		{"textual score", `{"success":true,"resultado_final":{"isFraudulento":false,"score":"n/a"}}`, domain.VerdictValid},
		{"structured confidence", `{"success":true,"resultado_final":{"isFraudulento":true,"confianca":[1]}}`, domain.VerdictFraudulent},
		{"motivos as an object", `{"status":"completed","fraudeAnalise":{"isFraudulento":true,"motivos":{"a":1}}}`, domain.VerdictFraudulent},
		{"metodos as a string", `{"status":"completed","fraudeAnalise":{"isFraudulento":false,"metodos":"ocr"}}`, domain.VerdictValid},
		{"gerado_em as an object", `{"status":"completed","fraudeAnalise":{"isFraudulento":false,"explicacao":{"gerado_em":{"ts":1}}}}`, domain.VerdictValid},
		{"explicacao as a string", `{"status":"completed","fraudeAnalise":{"isFraudulento":true,"explicacao":"ver detalhes"}}`, domain.VerdictFraudulent},
		{"simples as a list", `{"status":"completed","fraudeAnalise":{"isFraudulento":true,"explicacao":{"simples":[]}}}`, domain.VerdictFraudulent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(rawResponse(t, tt.body))
			require.NoError(t, err)
			requireComplete(t, got)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestNormalize_LenientServerReasons(t *testing.T) {
	raw := rawResponse(t, `{"status":"completed","fraudeAnalise":{"isFraudulento":true,"explicacao":{
		"razoes":[
			{"gravidade":"alta","titulo":"Valor alterado","impacto":"alto"},
			"not a reason",
			{"gravidade":"baixa","titulo":{"pt":"x"},"impacto":0.2}
		],
		"recomendacao":{"nivel_risco":"ALTO","acao_principal":"NÃO PAGAR","mensagem":"Suspeito","proximos_passos":["Ligue para o banco",{"x":1},null]}
	}}}`)

	got, err := Normalize(raw)
	require.NoError(t, err)

	reasons := got.Explanation.Reasons
	require.Len(t, reasons, 2)
	assert.Equal(t, "Valor alterado", reasons[0].Title)
	assert.Equal(t, 0.0, reasons[0].ImpactScore)
	assert.Equal(t, domain.SeverityHigh, reasons[0].Severity)
	assert.Equal(t, "", reasons[1].Title)
	assert.Equal(t, 0.2, reasons[1].ImpactScore)

	assert.Equal(t, []string{"Ligue para o banco"}, got.Explanation.Recommendation.NextSteps)
	assert.Equal(t, domain.ActionDoNotPay, got.Explanation.Recommendation.MainAction)
}

func TestNormalize_SyncKeysWinWhenBothShapesPresent(t *testing.T) {
	raw := rawResponse(t, `{
		"success": true,
		"resultado_final": {"isFraudulento": false},
		"status": "completed",
		"fraudeAnalise": {"isFraudulento": true, "explicacao": {"simples": {"status": "FRAUDULENTO"}}}
	}`)

	got, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictValid, got.Status)
	assert.Equal(t, "VÁLIDO", got.Explanation.PlainSummary.Status)
}

func TestNormalize_ServerExplanationTakesPrecedence(t *testing.T) {
	raw := rawResponse(t, `{
		"status": "completed",
		"dadosExtraidos": {"codigo_banco": "001", "banco_nome": "Banco do Brasil"},
		"fraudeAnalise": {
			"isFraudulento": true,
			"score": 0.92,
			"metodos": ["ocr_divergente"],
			"explicacao": {
				"simples": {
					"status": "FRAUDULENTO",
					"confianca": "Alta",
					"resumo": "O código de barras não confere com o banco",
					"principal_motivo": "Banco divergente",
					"acao_recomendada": "Não pague",
					"emoji": "🚨"
				},
				"avancado": {
					"analise_tecnica": {"modelo": "xgb"},
					"metricas": {"score": 0.92},
					"detalhes_tecnicos": null
				},
				"razoes": [
					{"gravidade": "critica", "categoria": "banco", "categoria_nome": "Banco", "icone": "close-circle", "cor": "danger",
					 "titulo": "Banco divergente", "descricao_simples": "O banco não bate", "descricao_avancada": "codigo_banco=001 vs 237",
					 "impacto": 0.6, "fonte": "validador"},
					{"gravidade": "baixa", "categoria": "layout", "titulo": "Fonte diferente", "descricao_simples": "s", "descricao_avancada": "a",
					 "impacto": "0.1", "fonte": "cv"},
					{"gravidade": "desconhecida", "categoria": "outro", "titulo": "Outro", "impacto": 0, "fonte": "x"}
				],
				"recomendacao": {
					"nivel_risco": "ALTO",
					"emoji": "⚠️",
					"cor": "danger",
					"acao_principal": "NÃO PAGAR",
					"mensagem": "Suspeito",
					"proximos_passos": ["Ligue para o banco"]
				},
				"gerado_em": "2024-05-01T10:00:00Z"
			}
		}
	}`)

	got, err := Normalize(raw)
	require.NoError(t, err)
	requireComplete(t, got)

	exp := got.Explanation
	assert.Equal(t, domain.PlainSummary{
		Status:            "FRAUDULENTO",
		Confidence:        "Alta",
		Summary:           "O código de barras não confere com o banco",
		MainReason:        "Banco divergente",
		RecommendedAction: "Não pague",
		Emoji:             "🚨",
	}, exp.PlainSummary)

	assert.Equal(t, map[string]any{"modelo": "xgb"}, exp.AdvancedDetail.TechnicalAnalysis)
	assert.Equal(t, map[string]any{}, exp.AdvancedDetail.TechnicalDetails)

	require.Len(t, exp.Reasons, 3)
	assert.Equal(t, domain.Reason{
		Severity:     domain.SeverityCritical,
		Category:     "banco",
		CategoryName: "Banco",
		Title:        "Banco divergente",
		PlainText:    "O banco não bate",
		AdvancedText: "codigo_banco=001 vs 237",
		ImpactScore:  0.6,
		Source:       "validador",
		Icon:         "close-circle",
		Color:        "danger",
	}, exp.Reasons[0])
	assert.Equal(t, domain.SeverityLow, exp.Reasons[1].Severity)
	assert.Equal(t, 0.1, exp.Reasons[1].ImpactScore)
	assert.Equal(t, domain.SeverityMedium, exp.Reasons[2].Severity)
	assert.Equal(t, []string{"Banco divergente", "Fonte diferente", "Outro"},
		[]string{exp.Reasons[0].Title, exp.Reasons[1].Title, exp.Reasons[2].Title})

	assert.Equal(t, domain.Recommendation{
		RiskLevel:  domain.RiskHigh,
		MainAction: domain.ActionDoNotPay,
		Message:    "Suspeito",
		NextSteps:  []string{"Ligue para o banco"},
		Emoji:      "⚠️",
		Color:      "danger",
	}, exp.Recommendation)

	require.NotNil(t, got.ExtractedFields.BankCode)
	assert.Equal(t, "001", *got.ExtractedFields.BankCode)
	assert.Equal(t, "Banco do Brasil", *got.ExtractedFields.BankName)
}

func TestNormalize_PartialServerExplanationFilledFromTemplate(t *testing.T) {
	raw := rawResponse(t, `{"status":"completed","fraudeAnalise":{"isFraudulento":false,
		"explicacao":{"razoes":[{"gravidade":"media","titulo":"ok"}]}}}`)

	got, err := Normalize(raw)
	require.NoError(t, err)
	requireComplete(t, got)

	assert.Equal(t, "VÁLIDO", got.Explanation.PlainSummary.Status)
	assert.Equal(t, domain.ActionCanPay, got.Explanation.Recommendation.MainAction)
	require.Len(t, got.Explanation.Reasons, 1)
	assert.Equal(t, "ok", got.Explanation.Reasons[0].Title)
}

func TestNormalize_SynthesisIsDeterministic(t *testing.T) {
	for _, flag := range []string{"true", "false"} {
		t.Run(flag, func(t *testing.T) {
			body := `{"status":"completed","fraudeAnalise":{"isFraudulento":` + flag + `,"metodos":["linha_digitavel"]}}`

			first, err := Normalize(rawResponse(t, body))
			require.NoError(t, err)
			second, err := Normalize(rawResponse(t, body))
			require.NoError(t, err)

			assert.Equal(t, first.Explanation, second.Explanation)

			// mutating one result must not leak into the next
			first.Explanation.Recommendation.NextSteps[0] = "changed"
			third, err := Normalize(rawResponse(t, body))
			require.NoError(t, err)
			assert.Equal(t, second.Explanation, third.Explanation)
		})
	}
}

func TestNormalize_TemplateIgnoresOtherSignals(t *testing.T) {
	a, err := Normalize(rawResponse(t, `{"status":"completed","fraudeAnalise":{"isFraudulento":true,"score":0.99,"confianca":0.9}}`))
	require.NoError(t, err)
	b, err := Normalize(rawResponse(t, `{"success":true,"resultado_final":{"isFraudulento":true,"score":0.51,"motivos":["x"]},"dados_extraidos":{"valor":"10"}}`))
	require.NoError(t, err)

	assert.Equal(t, a.Explanation, b.Explanation)
}

func TestNormalize_FirstMethodBecomesTheOnlyReason(t *testing.T) {
	got, err := Normalize(rawResponse(t, `{"success":true,"resultado_final":{"isFraudulento":true,"metodos":["beneficiario_suspeito","valor_alterado"]}}`))
	require.NoError(t, err)

	require.Len(t, got.Explanation.Reasons, 1)
	reason := got.Explanation.Reasons[0]
	assert.Equal(t, "beneficiario_suspeito", reason.Title)
	assert.Equal(t, domain.SeverityHigh, reason.Severity)
	assert.Equal(t, "metodos", reason.Source)
	assert.Equal(t, "beneficiario_suspeito", got.Explanation.PlainSummary.MainReason)
}

func TestNormalize_ExtractedFields(t *testing.T) {
	raw := rawResponse(t, `{"success":true,"resultado_final":{"isFraudulento":false},"dados_extraidos":{
		"codigo_barras": "00190000090281913600966281313172600000015000",
		"linha_digitavel": "00190.00009 02819.136009 66281.313172 6 00000000015000",
		"valor": "R$ 1.234,56",
		"vencimento": "2024-06-10",
		"beneficiario_nome": "Loja Exemplo LTDA",
		"beneficiario_cnpj": "12.345.678/0001-90",
		"codigo_banco": 1,
		"banco_nome": null,
		"agencia": ""
	}}`)

	got, err := Normalize(raw)
	require.NoError(t, err)

	f := got.ExtractedFields
	require.NotNil(t, f.Barcode)
	assert.Equal(t, "00190000090281913600966281313172600000015000", *f.Barcode)
	require.NotNil(t, f.Amount)
	assert.Equal(t, "1234.56", f.Amount.String())
	assert.Equal(t, "2024-06-10", *f.DueDate)
	assert.Equal(t, "Loja Exemplo LTDA", *f.Payee)
	assert.Equal(t, "12.345.678/0001-90", *f.PayeeTaxID)
	assert.Equal(t, "1", *f.BankCode)
	assert.Nil(t, f.BankName)
	require.NotNil(t, f.Branch)
	assert.Equal(t, "", *f.Branch)
}

func TestNormalize_UnreadableAmountIsAbsent(t *testing.T) {
	got, err := Normalize(rawResponse(t, `{"success":true,"resultado_final":{},"dados_extraidos":{"valor":"ilegível"}}`))
	require.NoError(t, err)
	assert.Nil(t, got.ExtractedFields.Amount)
}

func TestMapSeverity(t *testing.T) {
	tests := map[string]domain.Severity{
		"critica":  domain.SeverityCritical,
		"Crítica":  domain.SeverityCritical,
		"alta":     domain.SeverityHigh,
		"media":    domain.SeverityMedium,
		"média":    domain.SeverityMedium,
		"baixa":    domain.SeverityLow,
		"LOW":      domain.SeverityLow,
		"":         domain.SeverityMedium,
		"whatever": domain.SeverityMedium,
	}
	for in, want := range tests {
		assert.Equal(t, want, mapSeverity(in), in)
	}
}

func TestMapRiskAndAction(t *testing.T) {
	assert.Equal(t, domain.RiskLow, mapRiskLevel("baixo", true))
	assert.Equal(t, domain.RiskHigh, mapRiskLevel("MÉDIO", true))
	assert.Equal(t, domain.RiskLow, mapRiskLevel("", false))
	assert.Equal(t, domain.ActionCanPay, mapAction("Pode pagar", true))
	assert.Equal(t, domain.ActionDoNotPay, mapAction("não pagar", false))
	assert.Equal(t, domain.ActionDoNotPay, mapAction("verificar", true))
}
