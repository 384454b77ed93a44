package rag

import (
	"fmt"
	"strings"

	"github.com/agrodocs/agrodocs-go/internal/document"
)

// systemPrompt defines the assistant's role, tone, and domain expertise.
// The assistant always answers in Spanish; its users are agricultural
// producers asking about their own financial documents.
const systemPrompt = `Eres un asistente inteligente especializado en análisis financiero y gestión documental para productores agrícolas.

Tu función principal es ayudar a los productores a:
- Analizar contratos, órdenes de compra, facturas y registros de ventas
- Responder preguntas sobre sus operaciones financieras
- Proporcionar insights sobre gastos, proveedores, y ventas históricas
- Comparar datos entre diferentes períodos o proveedores

Directrices importantes:
1. Siempre basa tus respuestas en la información proporcionada en el contexto
2. Si no tienes suficiente información para responder, indícalo claramente
3. Usa un tono profesional pero cercano, apropiado para productores agrícolas
4. Presenta números y datos de forma clara y precisa
5. Cuando sea relevante, menciona las fuentes de los documentos que consultaste
6. Usa terminología del sector agrícola cuando sea apropiado
7. Proporciona respuestas concisas pero completas

Idioma: Responde siempre en español.`

// noContextFound is the context used when retrieval returns no chunks, so the
// model states it has no information instead of hallucinating an answer.
const noContextFound = "No se encontró información relevante en los documentos."

// TypeLabel returns the Spanish label for a document type, used in source
// citations. Unknown types fall back to the generic label.
func TypeLabel(t document.Type) string {
	switch t {
	case document.TypeContract:
		return "Contrato"
	case document.TypePurchaseOrder:
		return "Orden de Compra"
	case document.TypeInvoice:
		return "Factura"
	case document.TypeSalesRecord:
		return "Registro de Venta"
	default:
		return "Documento"
	}
}

// BuildContext renders the retrieved chunks as a numbered, source-tagged
// context block for the user prompt.
func BuildContext(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return noContextFound
	}

	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		label := TypeLabel(document.Type(chunk.DocumentType))
		source := fmt.Sprintf("[Fuente %d: %s - %s", i+1, label, chunk.OriginalName)
		if chunk.PageNumber > 0 {
			source += fmt.Sprintf(", página %d", chunk.PageNumber)
		}
		source += "]"
		parts = append(parts, source+"\n"+chunk.Content+"\n")
	}

	return "Información relevante de los documentos:\n\n" + strings.Join(parts, "\n---\n\n")
}

// BuildUserPrompt composes the user turn from the rendered context and the
// user's question.
func BuildUserPrompt(query, context string) string {
	return fmt.Sprintf("%s\n\nPregunta del usuario: %s\n\nPor favor, responde basándote en la información proporcionada.", context, query)
}
