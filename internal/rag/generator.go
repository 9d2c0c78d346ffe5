// Package rag implements the free-form fulfillment path: retrieve related
// context, synthesize a terraform definition with the model, and extract
// the code block from the reply.
package rag

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/rayadhanush/infrapilot-kb/internal/knowledge"
	"github.com/rayadhanush/infrapilot-kb/internal/log"
)

// ErrNoTemplate is returned when similarity search yields no template to
// seed the generation with.
var ErrNoTemplate = errors.New("rag: no matching template found")

// baseTemplate seeds generation so the model reuses known-good defaults
// instead of inventing AMIs and instance types.
const baseTemplate = `resource "aws_instance" "ec2_compute_instance" {
  ami           = "ami-09d56f8956ab235b3"
  instance_type = "t3.small"
  tags = {
    Name = "meghnasavit"
  }
  lifecycle {
    ignore_changes = [ami]
  }
}`

const systemInstruction = "You are a helpful assistant. Only generate terraform template without additional text."

var (
	hclFence       = regexp.MustCompile("(?s)```hcl\n(.*?)\n```")
	terraformFence = regexp.MustCompile("(?s)```terraform\n(.*?)\n```")
)

// Retriever is the similarity-search surface the generator needs,
// implemented by knowledge.Store.
type Retriever interface {
	MatchTemplate(ctx context.Context, text string) (*knowledge.Template, error)
	MatchDocs(ctx context.Context, text string, topK int) ([]string, error)
}

// GenerateFunc produces model text for a prompt. Split out so tests can
// run the pipeline without a live model.
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// NewGenkitGenerate adapts a genkit instance into a GenerateFunc.
func NewGenkitGenerate(g *genkit.Genkit, modelName string) GenerateFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		resp, err := genkit.Generate(ctx, g,
			ai.WithModelName(modelName),
			ai.WithSystem(systemInstruction),
			ai.WithPrompt(prompt),
		)
		if err != nil {
			return "", fmt.Errorf("generate: %w", err)
		}
		return resp.Text(), nil
	}
}

// Generator synthesizes a resource definition from free text.
type Generator struct {
	retriever Retriever
	generate  GenerateFunc
	topK      int
	logger    log.Logger
}

func NewGenerator(retriever Retriever, generate GenerateFunc, topK int, logger log.Logger) *Generator {
	if logger == nil {
		logger = log.NewNop()
	}
	if topK <= 0 {
		topK = 5
	}
	return &Generator{
		retriever: retriever,
		generate:  generate,
		topK:      topK,
		logger:    logger,
	}
}

// Synthesize runs retrieve, augment, generate, extract and returns the
// bare terraform definition ready to be sent as file_data.
func (g *Generator) Synthesize(ctx context.Context, userInput string) (string, error) {
	tpl, err := g.retriever.MatchTemplate(ctx, userInput)
	if err != nil {
		return "", fmt.Errorf("match template: %w", err)
	}
	if tpl == nil {
		return "", ErrNoTemplate
	}

	docs, err := g.retriever.MatchDocs(ctx, userInput, g.topK)
	if err != nil {
		return "", fmt.Errorf("match docs: %w", err)
	}

	prompt := buildPrompt(userInput, docs)
	g.logger.Debug("synthesizing definition", "intent", tpl.Intent, "docs", len(docs))

	raw, err := g.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return extractDefinition(raw), nil
}

func buildPrompt(userInput string, docs []string) string {
	var related strings.Builder
	for _, doc := range docs {
		related.WriteString(doc)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "User Input: %s\n\n", userInput)
	fmt.Fprintf(&b, "Base Template:\n%s\n\n", baseTemplate)
	fmt.Fprintf(&b, "Related Documentation:\n%s\n\n", related.String())
	b.WriteString("Based on the user input, retrieved base template, and additional related information, reuse key values or defaults from the template when possible\n")
	b.WriteString("- Try to generate for the exact task in the user prompt and only that.\n")
	b.WriteString("- Add a new resource group if and only if necessary.\n")
	b.WriteString("- You may remove existing resources if necessary.\n")
	b.WriteString("- Refine the template to match the user's request.\n")
	b.WriteString("- Make sure that all module names are unique by appending a random uuid at the end.\n")
	b.WriteString("- Don't use variables in the file, instead put in values as string literals in the resource block.")
	return b.String()
}

// extractDefinition pulls the first hcl or terraform code fence out of
// the model reply. A reply with no fence is assumed to already be bare
// terraform and is returned trimmed.
func extractDefinition(raw string) string {
	if m := hclFence.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := terraformFence.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}
