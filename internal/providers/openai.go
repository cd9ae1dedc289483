package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/yourusername/piggyback-video/internal/jobs"
)

const (
	chatCompletionsEndpoint = "https://api.openai.com/v1/chat/completions"
	maxTranscriptChars      = 1000
)

// QuestionClient はOpenAIのチャット補完APIで4択問題を生成するアダプターです。
// APIの失敗や不正なJSONは、エラーにする代わりに固定のフォールバック設問を
// 返します（1セクションの失敗でジョブ全体を落とさないため）。
type QuestionClient struct {
	client *http.Client
	apiKey string
	model  string
	logger *log.Logger
}

// NewQuestionClient は QuestionClient を作成します。
func NewQuestionClient(client *http.Client, apiKey, model string, logger *log.Logger) *QuestionClient {
	return &QuestionClient{client: client, apiKey: apiKey, model: model, logger: logger}
}

const transcriptPromptTemplate = `You are a friendly educational assistant for children. Read the transcript of a video below and create a fun multiple-choice question in English, even if the video is in another language.

Title: %q
Transcript (up to 1000 characters):
"""%s"""

Make sure:
- The question and all options are in English.
- It should be related to what kids might learn from the video.
- Provide 4 answer choices, and pick the correct one.
- Keep language easy for children to understand.

Respond with ONLY this JSON:
{"text": "Your question?", "options": ["A", "B", "C", "D"], "answer": "Correct Answer"}`

const labelsPromptTemplate = `You are a friendly teacher creating fun quiz questions for children.

Based on these detected objects: %s, generate ONE multiple-choice question in JSON format. Use SIMPLE language and make sure all four options come from the detected objects.

Respond with ONLY this JSON format:
{"text": "Question goes here?", "options": ["Label1", "Label2", "Label3", "Label4"], "answer": "CorrectOption"}`

// FromTranscript はトランスクリプト断片から4択問題を生成します。
func (q *QuestionClient) FromTranscript(ctx context.Context, title, text string) (jobs.Question, error) {
	if len(text) > maxTranscriptChars {
		text = text[:maxTranscriptChars]
	}
	prompt := fmt.Sprintf(transcriptPromptTemplate, title, text)

	question, err := q.generate(ctx, prompt, 0.5)
	if err != nil {
		if ctx.Err() != nil {
			return jobs.Question{}, ctx.Err()
		}
		q.logf("transcript question generation failed: %v", err)
		return jobs.Question{
			Kind: jobs.KindMultipleChoice,
			Text: "What do you think this video is about?",
		}, nil
	}
	return question, nil
}

// FromLabels は検出ラベル群から4択問題を生成します。
func (q *QuestionClient) FromLabels(ctx context.Context, labels []string) (jobs.Question, error) {
	if len(labels) == 0 {
		return jobs.Question{
			Kind: jobs.KindMultipleChoice,
			Text: "No objects detected to generate a question.",
		}, nil
	}
	prompt := fmt.Sprintf(labelsPromptTemplate, strings.Join(labels, ", "))

	question, err := q.generate(ctx, prompt, 0.7)
	if err != nil {
		if ctx.Err() != nil {
			return jobs.Question{}, ctx.Err()
		}
		q.logf("label question generation failed: %v", err)
		return jobs.Question{
			Kind: jobs.KindMultipleChoice,
			Text: "Let's explore what's in the video!",
		}, nil
	}
	return question, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (q *QuestionClient) generate(ctx context.Context, prompt string, temperature float64) (jobs.Question, error) {
	if q.apiKey == "" {
		return jobs.Question{}, fmt.Errorf("OpenAI API key is not configured")
	}

	payload, err := json.Marshal(chatRequest{
		Model:       q.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	})
	if err != nil {
		return jobs.Question{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatCompletionsEndpoint, bytes.NewReader(payload))
	if err != nil {
		return jobs.Question{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+q.apiKey)

	resp, err := q.client.Do(req)
	if err != nil {
		return jobs.Question{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return jobs.Question{}, fmt.Errorf("chat completions returned status %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return jobs.Question{}, fmt.Errorf("failed to parse chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return jobs.Question{}, fmt.Errorf("chat response has no choices")
	}

	question, err := ParseQuestionJSON(result.Choices[0].Message.Content)
	if err != nil {
		return jobs.Question{}, err
	}
	return question, nil
}

func (q *QuestionClient) logf(format string, args ...any) {
	if q.logger != nil {
		q.logger.Printf(format, args...)
	}
}

var jsonFencePattern = regexp.MustCompile("(?s)^```(?:json)?\\s*|\\s*```$")

// ParseQuestionJSON はモデル応答から設問JSONを取り出して検証します。
// モデルがMarkdownのコードブロックで囲んで返すことがあるため、それを剥がします。
func ParseQuestionJSON(raw string) (jobs.Question, error) {
	cleaned := jsonFencePattern.ReplaceAllString(strings.TrimSpace(raw), "")

	var parsed struct {
		Text    string   `json:"text"`
		Options []string `json:"options"`
		Answer  string   `json:"answer"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return jobs.Question{}, fmt.Errorf("invalid question JSON from model: %w", err)
	}
	if parsed.Text == "" || parsed.Answer == "" {
		return jobs.Question{}, fmt.Errorf("question JSON is missing required keys")
	}
	if len(parsed.Options) != 4 {
		return jobs.Question{}, fmt.Errorf("expected 4 options, got %d", len(parsed.Options))
	}

	return jobs.Question{
		Kind:    jobs.KindMultipleChoice,
		Text:    parsed.Text,
		Options: parsed.Options,
		Answer:  parsed.Answer,
	}, nil
}
