package normalizer

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/detectabb/boleto-gateway/internal/boleto/domain"
)

// result is the tagged form of a RawResponse. Shape detection produces one of
// syncResult or asyncResult and nothing downstream looks at raw keys again.
type result interface {
	extracted() map[string]json.RawMessage
	signals() *fraudAnalysis
}

// syncResult is the body of POST /api/test-ocr. "success" only marks the
// shape; a false value still carries a verdict.
type syncResult struct {
	DadosExtraidos map[string]json.RawMessage
	ResultadoFinal *fraudAnalysis
}

func (r *syncResult) extracted() map[string]json.RawMessage { return r.DadosExtraidos }
func (r *syncResult) signals() *fraudAnalysis { return r.ResultadoFinal }

// asyncResult is the body of GET /api/analise/{id}
type asyncResult struct {
	Status         domain.RemoteStatus
	DadosExtraidos map[string]json.RawMessage
	FraudeAnalise  *fraudAnalysis
}

func (r *asyncResult) extracted() map[string]json.RawMessage { return r.DadosExtraidos }
func (r *asyncResult) signals() *fraudAnalysis { return r.FraudeAnalise }

// fraudAnalysis holds the raw fraud signals. The flag comes under two
// spellings depending on the endpoint. Only the flag is decoded strictly;
// everything else is read leniently when it is used.
type fraudAnalysis struct {
	IsFraudulento      *bool           `json:"isFraudulento"`
	IsFraudulentoSnake *bool           `json:"is_fraudulento"`
	Metodos            json.RawMessage `json:"metodos"`
	Explicacao         json.RawMessage `json:"explicacao"`
}

// serverExplanation is the explanation the service writes itself. Each
// section is decoded on its own so one unreadable section does not hide
// the others.
type serverExplanation struct {
	Simples      json.RawMessage `json:"simples"`
	Avancado     json.RawMessage `json:"avancado"`
	Razoes       json.RawMessage `json:"razoes"`
	Recomendacao json.RawMessage `json:"recomendacao"`
}

type serverSummary struct {
	Status          flexString `json:"status"`
	Confianca       flexString `json:"confianca"`
	Resumo          flexString `json:"resumo"`
	PrincipalMotivo flexString `json:"principal_motivo"`
	AcaoRecomendada flexString `json:"acao_recomendada"`
	Emoji           flexString `json:"emoji"`
}

type serverAdvanced struct {
	AnaliseTecnica   any `json:"analise_tecnica"`
	Metricas         any `json:"metricas"`
	DetalhesTecnicos any `json:"detalhes_tecnicos"`
}

type serverReason struct {
	Gravidade         flexString `json:"gravidade"`
	Categoria         flexString `json:"categoria"`
	CategoriaNome     flexString `json:"categoria_nome"`
	Icone             flexString `json:"icone"`
	Cor               flexString `json:"cor"`
	Titulo            flexString `json:"titulo"`
	DescricaoSimples  flexString `json:"descricao_simples"`
	DescricaoAvancada flexString `json:"descricao_avancada"`
	Impacto           flexFloat  `json:"impacto"`
	Fonte             flexString `json:"fonte"`
}

type serverRecommendation struct {
	NivelRisco     flexString      `json:"nivel_risco"`
	Emoji          flexString      `json:"emoji"`
	Cor            flexString      `json:"cor"`
	AcaoPrincipal  flexString      `json:"acao_principal"`
	Mensagem       flexString      `json:"mensagem"`
	ProximosPassos json.RawMessage `json:"proximos_passos"`
}

// flexString accepts any JSON scalar as text. null, objects and arrays
// leave it unset.
type flexString struct {
	Value string
	Set   bool
}

func (f *flexString) UnmarshalJSON(b []byte) error {
	*f = flexString{}
	v, err := decodeScalar(b)
	if err != nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		*f = flexString{Value: t, Set: true}
	case json.Number:
		*f = flexString{Value: t.String(), Set: true}
	case bool:
		*f = flexString{Value: strconv.FormatBool(t), Set: true}
	}
	return nil
}

// flexFloat accepts a JSON number or a numeric string. Anything else,
// including labels like "alto", leaves it at zero.
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	*f = flexFloat{}
	v, err := decodeScalar(b)
	if err != nil {
		return nil
	}
	var n float64
	switch t := v.(type) {
	case json.Number:
		n, err = t.Float64()
	case string:
		n, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return nil
	}
	if err == nil {
		*f = flexFloat{Value: n, Set: true}
	}
	return nil
}

// lenient decodes data into v and reports whether it could. Absent and
// null values count as unreadable.
func lenient(data json.RawMessage, v any) bool {
	if !present(data) {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func present(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func decodeScalar(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// stringField reads an optional OCR text field. Anything that is not a
// string or number counts as not detected.
func stringField(fields map[string]json.RawMessage, key string) *string {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var f flexString
	if !lenient(raw, &f) || !f.Set {
		return nil
	}
	return &f.Value
}

// amountField reads the boleto value. Numbers are taken as is; strings may
// use the Brazilian format ("R$ 1.234,56").
func amountField(fields map[string]json.RawMessage, key string) *decimal.Decimal {
	raw, ok := fields[key]
	if !ok {
		return nil
	}

	v, err := decodeScalar(raw)
	if err != nil {
		return nil
	}

	var d decimal.Decimal
	switch t := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(t.String())
	case string:
		d, err = parseBRL(t)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return &d
}

func parseBRL(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	return decimal.NewFromString(s)
}
