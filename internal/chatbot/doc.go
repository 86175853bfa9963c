// Package chatbot generates the automated reception message sent once per
// conversation, on the customer's first contact. The static template is the
// default; an OpenAI-compatible client can generate it instead, with the
// template as fallback.
package chatbot
