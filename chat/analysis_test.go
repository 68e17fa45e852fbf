package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postAnalysis(t *testing.T, router http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestHandleAnalyzeExtractsFields(t *testing.T) {
	server, messages := newCompletionServer(t, `{"发票号码":"INV-001","total_amount":1280.5}`)
	defer server.Close()
	router, _ := newChatRouter(t, server.URL)

	recorder := postAnalysis(t, router, "/analyze", map[string]string{"text": "发票号码 INV-001 金额 1280.50"})
	require.Equal(t, http.StatusOK, recorder.Code)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &fields))
	assert.Equal(t, "INV-001", fields["发票号码"])
	assert.Equal(t, 1280.5, fields["total_amount"])

	require.Len(t, *messages, 1)
	prompt := (*messages)[0]["content"]
	assert.Contains(t, prompt, "请分析以下文本")
	assert.Contains(t, prompt, "发票号码 INV-001")
}

func TestHandleAnalyzeRequiresText(t *testing.T) {
	server, _ := newCompletionServer(t, "{}")
	defer server.Close()
	router, _ := newChatRouter(t, server.URL)

	recorder := postAnalysis(t, router, "/analyze", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHandleFinancialAnalysisReportModes(t *testing.T) {
	cases := []struct {
		name          string
		analysisType  string
		promptMarker  string
		responseField string
	}{
		{"analysis report", "financial_analysis", "财务分析报告", "analysis"},
		{"prediction", "prediction", "财务预测", "analysis"},
		{"data chat", "chat", "用户问题：毛利率是多少", "response"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, messages := newCompletionServer(t, "分析结果")
			defer server.Close()
			router, _ := newChatRouter(t, server.URL)

			recorder := postAnalysis(t, router, "/financial-analysis", map[string]string{
				"text":          "2024年营收数据",
				"analysis_type": tc.analysisType,
				"question":      "毛利率是多少",
			})
			require.Equal(t, http.StatusOK, recorder.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
			assert.Equal(t, "分析结果", body[tc.responseField])
			assert.Equal(t, tc.analysisType, body["type"])

			require.Len(t, *messages, 1)
			prompt := (*messages)[0]["content"]
			assert.Contains(t, prompt, "2024年营收数据")
			assert.Contains(t, prompt, tc.promptMarker)
		})
	}
}

func TestHandleFinancialAnalysisDefaultReturnsJSONReport(t *testing.T) {
	server, messages := newCompletionServer(t, `{"document_type":"利润表","health_assessment":"良好"}`)
	defer server.Close()
	router, _ := newChatRouter(t, server.URL)

	recorder := postAnalysis(t, router, "/financial-analysis", map[string]string{"text": "利润表数据"})
	require.Equal(t, http.StatusOK, recorder.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "利润表", body["document_type"])
	assert.Equal(t, "良好", body["health_assessment"])

	require.Len(t, *messages, 1)
	assert.Contains(t, (*messages)[0]["content"], "请以JSON格式返回分析结果")
}

func TestHandleFinancialAnalysisRejectsInvalidModelJSON(t *testing.T) {
	server, _ := newCompletionServer(t, "这不是JSON")
	defer server.Close()
	router, _ := newChatRouter(t, server.URL)

	recorder := postAnalysis(t, router, "/financial-analysis", map[string]string{"text": "数据"})
	assert.Equal(t, http.StatusBadGateway, recorder.Code)
}
