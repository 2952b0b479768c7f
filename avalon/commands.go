package avalon

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

// optionValidator checks flattened command options against the typed
// input structs below.
var optionValidator = validator.New(validator.WithRequiredStructEnabled())

// chatInput is the validated option set for the /chat command.
type chatInput struct {
	Query string `validate:"required,min=1,max=1000"`
}

// setModelInput is the validated option set for the /setmodel command.
type setModelInput struct {
	ModelName string `validate:"required,min=1,max=100"`
}

// validateChatOptions checks the flattened /chat options. Validation
// failure is terminal for the invocation; there's no retry.
func validateChatOptions(options map[string]string) (chatInput, error) {
	input := chatInput{Query: options[chatCommandQueryOption]}
	if err := optionValidator.Struct(input); err != nil {
		return input, validationError(chatCommandQueryOption, err)
	}
	return input, nil
}

// validateSetModelOptions checks the flattened /setmodel options.
func validateSetModelOptions(options map[string]string) (setModelInput, error) {
	input := setModelInput{ModelName: options[setModelCommandModelOption]}
	if err := optionValidator.Struct(input); err != nil {
		return input, validationError(setModelCommandModelOption, err)
	}
	return input, nil
}

// validationError renders validator violations as a single error whose
// message is suitable for an ephemeral reply to the user.
func validationError(optionName string, err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		switch fieldError.Tag() {
		case "required", "min":
			messages = append(
				messages,
				fmt.Sprintf("%s must not be empty", optionName),
			)
		case "max":
			messages = append(
				messages,
				fmt.Sprintf(
					"%s must be at most %s characters",
					optionName,
					fieldError.Param(),
				),
			)
		default:
			messages = append(
				messages,
				fmt.Sprintf("%s is invalid", optionName),
			)
		}
	}
	return errors.New(strings.Join(messages, ", "))
}

// applicationCommands returns the static slash command descriptors
// registered with Discord. These are fixed at process start; the only
// runtime-mutable piece of configuration is the active model.
func applicationCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		appCommandChat(),
		appCommandSetModel(),
	}
}

// appCommandChat creates the ApplicationCommand for the "chat" command.
func appCommandChat() *discordgo.ApplicationCommand {
	minLength := 1
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandChat,
		Description: DefaultChatCommandDescription,
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        chatCommandQueryOption,
				Description: DefaultChatCommandOptionDescription,
				Required:    true,
				MinLength:   &minLength,
				MaxLength:   chatCommandQueryMaxLength,
			},
		},
	}
}

// appCommandSetModel creates the ApplicationCommand for the owner-only
// "setmodel" command.
func appCommandSetModel() *discordgo.ApplicationCommand {
	minLength := 1
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandSetModel,
		Description: DefaultSetModelCommandDescription,
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        setModelCommandModelOption,
				Description: DefaultSetModelCommandOptionDescription,
				Required:    true,
				MinLength:   &minLength,
				MaxLength:   setModelCommandModelMaxLength,
			},
		},
	}
}
