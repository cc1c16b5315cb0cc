package prompts

import (
	"github.com/effective-security/actionai/pkg/llms"
)

// MessageFormatter renders a single message from the input values.
type MessageFormatter interface {
	FormatMessage(values map[string]any) (llms.Message, error)
	GetInputVariables() []string
}

// MessagePromptTemplate renders a message of the given role.
type MessagePromptTemplate struct {
	Role     llms.Role
	Template PromptTemplate
}

var _ MessageFormatter = MessagePromptTemplate{}

// FormatMessage implements MessageFormatter.
func (p MessagePromptTemplate) FormatMessage(values map[string]any) (llms.Message, error) {
	text, err := p.Template.Format(values)
	if err != nil {
		return llms.Message{}, err
	}
	return llms.MessageFromTextParts(p.Role, text), nil
}

// GetInputVariables implements MessageFormatter.
func (p MessagePromptTemplate) GetInputVariables() []string {
	return p.Template.InputVariables
}

// NewSystemMessagePromptTemplate creates a system message template.
func NewSystemMessagePromptTemplate(template string, inputVariables []string) MessagePromptTemplate {
	return MessagePromptTemplate{
		Role:     llms.RoleSystem,
		Template: NewPromptTemplate(template, inputVariables),
	}
}
