package twilio

import "encoding/xml"

// ContentTypeXML is the content type for webhook replies.
const ContentTypeXML = "application/xml; charset=utf-8"

type twimlResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []string `xml:"Message"`
}

// MessagingResponse renders a TwiML reply with one message per body. An empty
// body list renders an empty response, which sends nothing.
func MessagingResponse(bodies ...string) ([]byte, error) {
	resp := twimlResponse{}
	for _, b := range bodies {
		if b != "" {
			resp.Messages = append(resp.Messages, b)
		}
	}
	out, err := xml.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
